package policy

import (
	"time"

	"github.com/pixperk/stompguard/pkg/types"
)

// built-in classes used when configuration does not override them
// interactive ceilings are an order of magnitude below batch ones
func Defaults() []types.ResourceClass {
	return []types.ResourceClass{
		{
			ID:                 types.ClassFileMutex,
			Mode:               types.ModeMutex,
			KeyPrefix:          "code",
			LeaseTTL:           30 * time.Second,
			InteractiveMaxWait: 500 * time.Millisecond,
			BatchMaxWait:       10 * time.Second,
			ConflictStrategy:   types.FailClosed,
		},
		{
			ID:                 types.ClassDBSingleWriter,
			Mode:               types.ModeSingleWriter,
			KeyPrefix:          "db",
			LeaseTTL:           60 * time.Second,
			InteractiveMaxWait: 1 * time.Second,
			BatchMaxWait:       30 * time.Second,
			ConflictStrategy:   types.FailClosed,
		},
		{
			ID:                 types.ClassGraphMerge,
			Mode:               types.ModeMerge,
			KeyPrefix:          "graph",
			LeaseTTL:           30 * time.Second,
			InteractiveMaxWait: 1 * time.Second,
			BatchMaxWait:       15 * time.Second,
			ConflictStrategy:   types.FailOpenMerge,
		},
		{
			ID:                 types.ClassDocgenIdempotent,
			Mode:               types.ModeIdempotent,
			KeyPrefix:          "docgen",
			LeaseTTL:           5 * time.Minute,
			InteractiveMaxWait: 2 * time.Second,
			BatchMaxWait:       60 * time.Second,
			ConflictStrategy:   types.FailClosed,
		},
	}
}

// alternate class ids accepted by Resolve
var aliases = map[types.ClassID]types.ClassID{
	types.ClassCodeMutex: types.ClassFileMutex,
}
