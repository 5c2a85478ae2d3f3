package types

import (
	"fmt"
	"time"
)

// identifies a resource class in the policy registry
type ClassID string

const (
	ClassFileMutex        ClassID = "file-mutex"
	ClassDBSingleWriter   ClassID = "db-single-writer"
	ClassGraphMerge       ClassID = "graph-merge"
	ClassDocgenIdempotent ClassID = "docgen-idempotent"

	// older name of file-mutex, still accepted by the registry
	ClassCodeMutex ClassID = "code-mutex"
)

// ConcurrencyMode is the closed set of ways a resource class may be shared.
type ConcurrencyMode uint

const (
	ModeMutex ConcurrencyMode = iota + 1
	ModeSingleWriter
	ModeMerge
	ModeIdempotent
)

var concurrencyModeNames = map[ConcurrencyMode]string{
	ModeMutex:        "mutex",
	ModeSingleWriter: "single_writer",
	ModeMerge:        "merge",
	ModeIdempotent:   "idempotent",
}

func (m ConcurrencyMode) String() string {
	if name, ok := concurrencyModeNames[m]; ok {
		return name
	}
	return "unknown"
}

func (m ConcurrencyMode) Valid() bool {
	_, ok := concurrencyModeNames[m]
	return ok
}

// what to do when concurrently merged writes disagree
type ConflictStrategy uint

const (
	FailClosed ConflictStrategy = iota + 1
	FailOpenMerge
)

var conflictStrategyNames = map[ConflictStrategy]string{
	FailClosed:    "fail_closed",
	FailOpenMerge: "fail_open_merge",
}

func (s ConflictStrategy) String() string {
	if name, ok := conflictStrategyNames[s]; ok {
		return name
	}
	return "unknown"
}

func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	for strategy, name := range conflictStrategyNames {
		if name == s {
			return strategy, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown conflict strategy %q", ErrInvalidConfig, s)
}

// WaitMode selects which max wait ceiling applies to a caller.
type WaitMode uint

const (
	Interactive WaitMode = iota + 1
	Batch
)

func (m WaitMode) String() string {
	switch m {
	case Interactive:
		return "interactive"
	case Batch:
		return "batch"
	default:
		return "unknown"
	}
}

// immutable policy record for a class of resources
type ResourceClass struct {
	ID                 ClassID
	Mode               ConcurrencyMode
	KeyPrefix          string
	LeaseTTL           time.Duration
	InteractiveMaxWait time.Duration
	BatchMaxWait       time.Duration
	ConflictStrategy   ConflictStrategy
}

// Validate reports configuration errors that must be caught at startup.
func (c ResourceClass) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty class id", ErrInvalidConfig)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: class %s has unknown concurrency mode %d", ErrInvalidConfig, c.ID, c.Mode)
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("%w: class %s has empty key prefix", ErrInvalidConfig, c.ID)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("%w: class %s lease_ttl must be positive", ErrInvalidConfig, c.ID)
	}
	if c.InteractiveMaxWait < 0 || c.BatchMaxWait < 0 {
		return fmt.Errorf("%w: class %s max waits must not be negative", ErrInvalidConfig, c.ID)
	}
	if _, ok := conflictStrategyNames[c.ConflictStrategy]; !ok {
		return fmt.Errorf("%w: class %s has unknown conflict strategy", ErrInvalidConfig, c.ID)
	}
	if c.ConflictStrategy == FailOpenMerge && c.Mode != ModeMerge {
		return fmt.Errorf("%w: class %s uses fail_open_merge without merge mode", ErrInvalidConfig, c.ID)
	}
	return nil
}

// names what is being touched; only the registry turns it into a key
type ResourceDescriptor struct {
	Class ClassID
	Scope string
}

// absolute path of a source file
func File(path string) ResourceDescriptor {
	return ResourceDescriptor{Class: ClassFileMutex, Scope: path}
}

// whole storage engine, e.g. "rag"
func Database(name string) ResourceDescriptor {
	return ResourceDescriptor{Class: ClassDBSingleWriter, Scope: name}
}

// graph identifier, e.g. "main"
func Graph(id string) ResourceDescriptor {
	return ResourceDescriptor{Class: ClassGraphMerge, Scope: id}
}

// repository whose documentation is being generated
func Docgen(repo string) ResourceDescriptor {
	return ResourceDescriptor{Class: ClassDocgenIdempotent, Scope: repo}
}

func (d ResourceDescriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Class, d.Scope)
}
