package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceBusyError(t *testing.T) {
	err := &ResourceBusyError{
		Key:         "code:/repo/main.go",
		Holder:      Holder{AgentID: "editor"},
		Waited:      1500 * time.Microsecond,
		Interactive: true,
	}

	assert.True(t, errors.Is(err, ErrResourceBusy))
	assert.False(t, errors.Is(err, ErrLockHeld))
	assert.Equal(t, "resource code:/repo/main.go busy: held by editor (waited 2ms), retry shortly", err.Error())

	err.Interactive = false
	assert.NotContains(t, err.Error(), "retry shortly")

	wrapped := fmt.Errorf("run: %w", err)
	var busy *ResourceBusyError
	require.True(t, errors.As(wrapped, &busy))
	assert.Equal(t, "editor", busy.Holder.AgentID)
}

func TestHeldError(t *testing.T) {
	err := &HeldError{Key: "db:rag", Holder: Holder{AgentID: "indexer", SessionID: "s1"}}
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Equal(t, "lock db:rag is held by indexer/s1", err.Error())
}

func TestNewHolder(t *testing.T) {
	a := NewHolder("doc-agent")
	b := NewHolder("doc-agent")

	assert.Equal(t, "doc-agent", a.AgentID)
	assert.NotEmpty(t, a.SessionID)
	assert.NotEqual(t, a, b, "sessions of one agent are distinct holders")
	assert.False(t, a.IsZero())
	assert.True(t, Holder{}.IsZero())
	assert.Equal(t, "solo", Holder{AgentID: "solo"}.String())
}

func TestDescriptorConstructors(t *testing.T) {
	tests := []struct {
		desc  ResourceDescriptor
		class ClassID
		str   string
	}{
		{File("/repo/a.go"), ClassFileMutex, "file-mutex(/repo/a.go)"},
		{Database("rag"), ClassDBSingleWriter, "db-single-writer(rag)"},
		{Graph("main"), ClassGraphMerge, "graph-merge(main)"},
		{Docgen("acme/widgets"), ClassDocgenIdempotent, "docgen-idempotent(acme/widgets)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.class, tt.desc.Class)
		assert.Equal(t, tt.str, tt.desc.String())
	}
}

func TestParseConflictStrategy(t *testing.T) {
	s, err := ParseConflictStrategy("fail_open_merge")
	require.NoError(t, err)
	assert.Equal(t, FailOpenMerge, s)
	assert.Equal(t, "fail_open_merge", s.String())

	_, err = ParseConflictStrategy("last_write_wins")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResourceClassValidate(t *testing.T) {
	valid := ResourceClass{
		ID:                 ClassGraphMerge,
		Mode:               ModeMerge,
		KeyPrefix:          "graph",
		LeaseTTL:           30 * time.Second,
		InteractiveMaxWait: time.Second,
		BatchMaxWait:       15 * time.Second,
		ConflictStrategy:   FailOpenMerge,
	}
	require.NoError(t, valid.Validate())

	tests := map[string]func(c *ResourceClass){
		"empty id":         func(c *ResourceClass) { c.ID = "" },
		"unknown mode":     func(c *ResourceClass) { c.Mode = 0 },
		"empty prefix":     func(c *ResourceClass) { c.KeyPrefix = "" },
		"zero ttl":         func(c *ResourceClass) { c.LeaseTTL = 0 },
		"negative wait":    func(c *ResourceClass) { c.BatchMaxWait = -time.Second },
		"unknown strategy": func(c *ResourceClass) { c.ConflictStrategy = 0 },
		"merge on mutex":   func(c *ResourceClass) { c.Mode = ModeMutex },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestWaitModeString(t *testing.T) {
	assert.Equal(t, "interactive", Interactive.String())
	assert.Equal(t, "batch", Batch.String())
	assert.Equal(t, "unknown", WaitMode(0).String())
}
