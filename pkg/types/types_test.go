package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ExecutionStatus
		allowed  bool
	}{
		{StatusSubmitted, StatusScheduled, true},
		{StatusSubmitted, StatusCleaningUp, true},
		{StatusSubmitted, StatusError, true},
		{StatusSubmitted, StatusRunning, false},
		{StatusScheduled, StatusStarting, true},
		{StatusScheduled, StatusSubmitted, true},
		{StatusStarting, StatusRunning, true},
		{StatusStarting, StatusSubmitted, true},
		{StatusStarting, StatusCleaningUp, false},
		{StatusRunning, StatusCleaningUp, true},
		{StatusRunning, StatusError, false},
		{StatusCleaningUp, StatusTerminated, true},
		{StatusTerminated, StatusSubmitted, false},
		{StatusError, StatusSubmitted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSetStatusLifecycle(t *testing.T) {
	e := &Execution{Status: StatusSubmitted}

	for _, next := range []ExecutionStatus{StatusScheduled, StatusStarting, StatusRunning} {
		require.NoError(t, e.SetStatus(next))
	}
	require.NotNil(t, e.TimeStart)
	assert.Nil(t, e.TimeEnd)

	require.NoError(t, e.SetStatus(StatusCleaningUp))
	require.NoError(t, e.SetStatus(StatusTerminated))
	require.NotNil(t, e.TimeEnd)
	assert.False(t, e.IsActive())
	assert.True(t, e.Duration() >= 0)
}

func TestSetStatusRejectsIllegalEdge(t *testing.T) {
	e := &Execution{Status: StatusRunning}

	err := e.SetStatus(StatusSubmitted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusRunning, e.Status)
}

func TestSetStatusSameIsNoop(t *testing.T) {
	e := &Execution{Status: StatusTerminated}
	assert.NoError(t, e.SetStatus(StatusTerminated))
	assert.Nil(t, e.TimeEnd)
}

func TestBackEdgeClearsStart(t *testing.T) {
	now := time.Now()
	e := &Execution{Status: StatusStarting, TimeStart: &now}

	require.NoError(t, e.SetStatus(StatusSubmitted))
	assert.Nil(t, e.TimeStart)
}

func TestSetError(t *testing.T) {
	e := &Execution{Status: StatusScheduled}
	require.NoError(t, e.SetError("not enough cores"))
	assert.Equal(t, StatusError, e.Status)
	assert.Equal(t, "not enough cores", e.ErrorMessage)

	running := &Execution{Status: StatusRunning}
	assert.ErrorIs(t, running.SetError("boom"), ErrInvalidTransition)
	assert.Empty(t, running.ErrorMessage)
}

func TestIsActive(t *testing.T) {
	for _, s := range AllStatuses {
		e := &Execution{Status: s}
		assert.Equal(t, s != StatusTerminated && s != StatusError, e.IsActive(), s)
	}
}

func TestRequiredResources(t *testing.T) {
	app := &ApplicationDescription{
		Services: []ServiceDescription{
			{Name: "master", Resources: ServiceResources{Cores: 1, MemoryBytes: 1 << 30}},
			{Name: "worker", TotalCount: 3, Resources: ServiceResources{Cores: 0.5, MemoryBytes: 2 << 30}},
		},
	}

	res := app.RequiredResources()
	assert.InDelta(t, 2.5, res.Cores, 0.0001)
	assert.Equal(t, int64(7<<30), res.MemoryBytes)
	assert.Equal(t, 3, res.CoreCount())

	var none *ApplicationDescription
	assert.Zero(t, none.RequiredResources())
}

func TestValidateExecutionName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"spark", true},
		{"my-notebook-2", true},
		{"abc", false},
		{"has space", false},
		{"under_score", false},
		{string(make([]byte, 129)), false},
	}

	for _, tt := range tests {
		err := ValidateExecutionName(tt.name)
		if tt.valid {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, ErrValidation, tt.name)
		}
	}
}

func TestApplicationValidate(t *testing.T) {
	valid := func() *ApplicationDescription {
		return &ApplicationDescription{
			Name: "spark",
			Services: []ServiceDescription{
				{Name: "master", Image: "zoerepo/spark", Monitor: true,
					Ports: []PortDescription{{Name: "web", Protocol: "tcp", PortNumber: 8080}}},
				{Name: "worker", Image: "zoerepo/spark"},
			},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*ApplicationDescription)
	}{
		{"no name", func(a *ApplicationDescription) { a.Name = "" }},
		{"no services", func(a *ApplicationDescription) { a.Services = nil }},
		{"no monitor", func(a *ApplicationDescription) { a.Services[0].Monitor = false }},
		{"duplicate service", func(a *ApplicationDescription) { a.Services[1].Name = "master" }},
		{"missing image", func(a *ApplicationDescription) { a.Services[1].Image = "" }},
		{"negative cores", func(a *ApplicationDescription) { a.Services[1].Resources.Cores = -1 }},
		{"bad port", func(a *ApplicationDescription) { a.Services[0].Ports[0].PortNumber = 70000 }},
		{"bad protocol", func(a *ApplicationDescription) { a.Services[0].Ports[0].Protocol = "sctp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(a)
			assert.ErrorIs(t, a.Validate(), ErrValidation)
		})
	}

	var none *ApplicationDescription
	assert.ErrorIs(t, none.Validate(), ErrValidation)
}

func TestUserOwns(t *testing.T) {
	e := &Execution{UserID: "alice"}

	assert.True(t, User{ID: "alice", Role: RoleUser}.Owns(e))
	assert.False(t, User{ID: "bob", Role: RoleUser}.Owns(e))
	assert.True(t, User{ID: "bob", Role: RoleAdmin}.Owns(e))
}

func TestPortKey(t *testing.T) {
	assert.Equal(t, "8888/tcp", PortKey(8888, "tcp"))
	assert.Equal(t, "53/udp", PortKey(53, "udp"))
	assert.Equal(t, "80/tcp", PortKey(80, ""))
}
