package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/zoe/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketExecutions = []byte("executions")
	bucketServices   = []byte("services")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	stateNotifier
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "zoe.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketExecutions, bucketServices} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// itob encodes ids big-endian so bucket iteration follows id order
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Execution operations
func (s *BoltStore) CreateExecution(execution *types.Execution) (uint64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		execution.ID = id
		data, err := json.Marshal(execution)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create execution: %w", err)
	}
	return execution.ID, nil
}

func (s *BoltStore) GetExecution(id uint64) (*types.Execution, error) {
	var execution types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketExecutions).Get(itob(id))
		if data == nil {
			return fmt.Errorf("execution %d: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &execution)
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (s *BoltStore) ListExecutions(filter ExecutionFilter) ([]*types.Execution, error) {
	var executions []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketExecutions).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var execution types.Execution
			if err := json.Unmarshal(v, &execution); err != nil {
				return err
			}
			if !filter.Match(&execution) {
				continue
			}
			executions = append(executions, &execution)
			if filter.Limit > 0 && len(executions) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	return executions, err
}

func (s *BoltStore) UpdateExecution(execution *types.Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		if b.Get(itob(execution.ID)) == nil {
			return fmt.Errorf("execution %d: %w", execution.ID, types.ErrNotFound)
		}
		data, err := json.Marshal(execution)
		if err != nil {
			return err
		}
		return b.Put(itob(execution.ID), data)
	})
}

// DeleteExecution removes the execution and every service that belongs to it
func (s *BoltStore) DeleteExecution(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		if b.Get(itob(id)) == nil {
			return fmt.Errorf("execution %d: %w", id, types.ErrNotFound)
		}

		sb := tx.Bucket(bucketServices)
		var orphans [][]byte
		err := sb.ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			if service.ExecutionID == id {
				orphans = append(orphans, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range orphans {
			if err := sb.Delete(k); err != nil {
				return err
			}
		}

		return b.Delete(itob(id))
	})
}

// Service operations
func (s *BoltStore) CreateService(service *types.Service) (uint64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		service.ID = id
		data, err := json.Marshal(service)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create service: %w", err)
	}
	return service.ID, nil
}

func (s *BoltStore) GetService(id uint64) (*types.Service, error) {
	var service types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServices).Get(itob(id))
		if data == nil {
			return fmt.Errorf("service %d: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &service)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func (s *BoltStore) ListServices(filter ServiceFilter) ([]*types.Service, error) {
	var services []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			if filter.Match(&service) {
				services = append(services, &service)
			}
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) UpdateService(service *types.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		if b.Get(itob(service.ID)) == nil {
			return fmt.Errorf("service %d: %w", service.ID, types.ErrNotFound)
		}
		data, err := json.Marshal(service)
		if err != nil {
			return err
		}
		return b.Put(itob(service.ID), data)
	})
}

func (s *BoltStore) DeleteService(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).Delete(itob(id))
	})
}
