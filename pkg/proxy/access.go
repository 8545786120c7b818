package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/rs/zerolog"
)

// DefaultPrefix is the path prefix under which the proxy exposes executions
const DefaultPrefix = "/zoe/"

// clfTime is the timestamp layout of the Common Log Format
const clfTime = "02/Jan/2006:15:04:05 -0700"

// host ident user [time] "METHOD path PROTO" status
var clfLine = regexp.MustCompile(`^\S+ \S+ \S+ \[([^\]]+)\] "[A-Z]+ (\S+)[^"]*" \d{3}`)

// AccessLog reads the access log of the external reverse proxy incrementally.
// Each Read picks up where the previous one stopped; a file that shrank is
// assumed rotated and read from the start.
type AccessLog struct {
	path   string
	prefix string
	offset int64
	logger zerolog.Logger
}

// NewAccessLog creates a reader for the log at path. Requests whose path starts
// with prefix followed by an execution id are attributed to that execution.
func NewAccessLog(path, prefix string) *AccessLog {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &AccessLog{
		path:   path,
		prefix: prefix,
		logger: log.WithComponent("proxy"),
	}
}

// Read returns the latest access time per execution found in the lines
// appended since the previous call. Incomplete trailing lines are left for
// the next call.
func (l *AccessLog) Read() (map[uint64]time.Time, error) {
	accesses := make(map[uint64]time.Time)

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Debug().Str("path", l.path).Msg("Access log does not exist yet")
			return accesses, nil
		}
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat access log: %w", err)
	}
	if info.Size() < l.offset {
		l.logger.Info().Str("path", l.path).Msg("Access log rotated, reading from start")
		l.offset = 0
	}
	if _, err := f.Seek(l.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek access log: %w", err)
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return accesses, fmt.Errorf("failed to read access log: %w", err)
		}
		l.offset += int64(len(line))

		id, at, ok := l.parse(strings.TrimRight(line, "\r\n"))
		if !ok {
			continue
		}
		if prev, seen := accesses[id]; !seen || at.After(prev) {
			accesses[id] = at
		}
	}
	return accesses, nil
}

func (l *AccessLog) parse(line string) (uint64, time.Time, bool) {
	m := clfLine.FindStringSubmatch(line)
	if m == nil {
		return 0, time.Time{}, false
	}
	path := m[2]
	if !strings.HasPrefix(path, l.prefix) {
		return 0, time.Time{}, false
	}
	rest := strings.TrimPrefix(path, l.prefix)
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, time.Time{}, false
	}
	at, err := time.Parse(clfTime, m[1])
	if err != nil {
		return 0, time.Time{}, false
	}
	return id, at, true
}

// Recorder stores access timestamps on executions
type Recorder interface {
	RecordAccess(id uint64, at time.Time) error
}

// Updater feeds new access log entries to a Recorder
type Updater struct {
	log      *AccessLog
	recorder Recorder
}

// NewUpdater creates the proxy access timestamp updater
func NewUpdater(accessLog *AccessLog, recorder Recorder) *Updater {
	return &Updater{log: accessLog, recorder: recorder}
}

// Update reads the new log entries and records the latest access of each execution
func (u *Updater) Update(ctx context.Context) error {
	accesses, err := u.log.Read()
	if err != nil {
		return err
	}

	ids := make([]uint64, 0, len(accesses))
	for id := range accesses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.recorder.RecordAccess(id, accesses[id]); err != nil {
			errs = append(errs, fmt.Errorf("execution %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
