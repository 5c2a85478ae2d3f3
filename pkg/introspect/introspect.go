// Package introspect builds the read-only views of coordination state that
// the gRPC admin service and the MCP tools expose. None of it touches the
// acquisition path.
package introspect

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pixperk/stompguard/pkg/lockmgr"
	"github.com/pixperk/stompguard/pkg/policy"
	"github.com/pixperk/stompguard/pkg/telemetry"
	"github.com/pixperk/stompguard/pkg/types"
)

type LockView struct {
	Key         string    `json:"key"`
	Agent       string    `json:"agent"`
	Session     string    `json:"session"`
	Token       uint64    `json:"token"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LeaseTTLMs  int64     `json:"lease_ttl_ms"`
	RemainingMs int64     `json:"remaining_ms"`
}

type LocksReport struct {
	Locks          []LockView `json:"locks"`
	FencingCounter uint64     `json:"fencing_counter"`
}

type ContentionView struct {
	Key        string    `json:"key"`
	Runs       int64     `json:"runs"`
	Busy       int64     `json:"busy"`
	Errors     int64     `json:"errors"`
	AvgWaitMs  float64   `json:"avg_wait_ms"`
	MaxWaitMs  float64   `json:"max_wait_ms"`
	LastHolder string    `json:"last_holder,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
}

type ContentionReport struct {
	Keys []ContentionView `json:"keys"`
}

type PolicyView struct {
	Class              string `json:"class"`
	Mode               string `json:"mode"`
	KeyPrefix          string `json:"key_prefix"`
	LeaseTTL           string `json:"lease_ttl"`
	InteractiveMaxWait string `json:"interactive_max_wait"`
	BatchMaxWait       string `json:"batch_max_wait"`
	ConflictStrategy   string `json:"conflict_strategy"`
}

type PoliciesReport struct {
	Classes []PolicyView `json:"classes"`
}

type KeyView struct {
	Class  string `json:"class"`
	Scope  string `json:"scope"`
	Key    string `json:"key"`
	HeldBy string `json:"held_by,omitempty"` // empty when free
}

// Source gathers the components views are read from. Stats may be nil.
type Source struct {
	Manager  *lockmgr.Manager
	Registry *policy.Registry
	Stats    *telemetry.Stats
}

func (s Source) Locks() LocksReport {
	now := time.Now()
	snap := s.Manager.Snapshot()

	report := LocksReport{
		Locks:          make([]LockView, 0, len(snap)),
		FencingCounter: s.Manager.Stats().FencingCounter,
	}
	for _, l := range snap {
		remaining := l.LeaseExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		report.Locks = append(report.Locks, LockView{
			Key:         l.Key,
			Agent:       l.Holder.AgentID,
			Session:     l.Holder.SessionID,
			Token:       l.FencingToken,
			AcquiredAt:  l.AcquiredAt,
			ExpiresAt:   l.LeaseExpiresAt,
			LeaseTTLMs:  l.LeaseTTL.Milliseconds(),
			RemainingMs: remaining.Milliseconds(),
		})
	}
	return report
}

func (s Source) Contention() ContentionReport {
	report := ContentionReport{Keys: []ContentionView{}}
	if s.Stats == nil {
		return report
	}
	for _, k := range s.Stats.Snapshot() {
		report.Keys = append(report.Keys, ContentionView{
			Key:        k.Key,
			Runs:       k.Runs,
			Busy:       k.Busy,
			Errors:     k.Errors,
			AvgWaitMs:  ms(k.AvgWait()),
			MaxWaitMs:  ms(k.MaxWait),
			LastHolder: k.LastHolder,
			LastSeen:   k.LastSeen,
		})
	}
	return report
}

func (s Source) Policies() PoliciesReport {
	classes := s.Registry.Classes()
	report := PoliciesReport{Classes: make([]PolicyView, 0, len(classes))}
	for _, c := range classes {
		report.Classes = append(report.Classes, PolicyView{
			Class:              string(c.ID),
			Mode:               c.Mode.String(),
			KeyPrefix:          c.KeyPrefix,
			LeaseTTL:           c.LeaseTTL.String(),
			InteractiveMaxWait: c.InteractiveMaxWait.String(),
			BatchMaxWait:       c.BatchMaxWait.String(),
			ConflictStrategy:   c.ConflictStrategy.String(),
		})
	}
	return report
}

// ResolveKey shows the canonical key of a descriptor and who holds it.
func (s Source) ResolveKey(class, scope string) (KeyView, error) {
	key, c, err := s.Registry.ResolveDescriptor(types.ResourceDescriptor{Class: types.ClassID(class), Scope: scope})
	if err != nil {
		return KeyView{}, err
	}

	view := KeyView{Class: string(c.ID), Scope: scope, Key: key}
	if state, ok := s.Manager.Holder(key); ok {
		view.HeldBy = state.Holder.String()
	}
	return view, nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ToStruct converts a report into a protobuf Struct via its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("convert to struct: %w", err)
	}
	return st, nil
}

// FromStruct decodes a protobuf Struct back into a report.
func FromStruct(st *structpb.Struct, v any) error {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
