// Package graph merges concurrently produced metadata patches into one
// deterministic graph state.
package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidPatch = errors.New("invalid graph patch")

type Kind string

const (
	KindEntity Kind = "entity"
	KindEdge   Kind = "edge"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Target identifies one entity or edge. Edge ids are built by the caller,
// e.g. "pkg/a->pkg/b:imports".
type Target struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Key is the merge key of the target.
func (t Target) Key() string {
	return string(t.Kind) + ":" + t.ID
}

func (t Target) String() string { return t.Key() }

// GraphPatch is one proposed change. Patches are values and are never
// modified once built.
type GraphPatch struct {
	Op         Op              `json:"op"`
	Target     Target          `json:"target"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Provenance string          `json:"provenance"`
}

func Upsert(target Target, payload json.RawMessage, ts time.Time, provenance string) GraphPatch {
	return GraphPatch{Op: OpUpsert, Target: target, Payload: payload, Timestamp: ts, Provenance: provenance}
}

func Delete(target Target, ts time.Time, provenance string) GraphPatch {
	return GraphPatch{Op: OpDelete, Target: target, Timestamp: ts, Provenance: provenance}
}

// Validate rejects patches the merge cannot order.
func (p GraphPatch) Validate() error {
	switch p.Op {
	case OpUpsert, OpDelete:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, p.Op)
	}
	switch p.Target.Kind {
	case KindEntity, KindEdge:
	default:
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidPatch, p.Target.Kind)
	}
	if p.Target.ID == "" {
		return fmt.Errorf("%w: empty target id", ErrInvalidPatch)
	}
	if p.Provenance == "" {
		return fmt.Errorf("%w: %s has no provenance", ErrInvalidPatch, p.Target)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s has no timestamp", ErrInvalidPatch, p.Target)
	}
	if p.Op == OpUpsert && len(p.Payload) > 0 && !json.Valid(p.Payload) {
		return fmt.Errorf("%w: %s payload is not valid JSON", ErrInvalidPatch, p.Target)
	}
	return nil
}

// Entry is the current value of a target. Deleted entries are tombstones:
// they keep their timestamp so an older upsert cannot resurrect them.
type Entry struct {
	Target     Target          `json:"target"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Deleted    bool            `json:"deleted,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Provenance string          `json:"provenance"`
}

func (p GraphPatch) entry() Entry {
	return Entry{
		Target:     p.Target,
		Payload:    canonicalPayload(p.Payload),
		Deleted:    p.Op == OpDelete,
		Timestamp:  p.Timestamp,
		Provenance: p.Provenance,
	}
}

// canonicalPayload returns payload in the form encoding/json writes it
// (compact, HTML-escaped), so an entry compares equal to itself after a
// round trip through any JSON-backed store.
func canonicalPayload(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	return out
}

// compare orders writes by timestamp, then provenance, then payload bytes,
// and finally lets a delete beat an otherwise identical upsert. It is a
// total order, which is what makes the merge independent of input order.
func compare(a, b Entry) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	if a.Provenance != b.Provenance {
		if a.Provenance < b.Provenance {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(a.Payload, b.Payload); c != 0 {
		return c
	}
	switch {
	case a.Deleted == b.Deleted:
		return 0
	case b.Deleted:
		return -1
	default:
		return 1
	}
}

// State maps target keys to entries. Treat it as immutable: Merge always
// returns a new map.
type State map[string]Entry

// Get returns the live entry for t. Tombstones are reported as absent.
func (s State) Get(t Target) (Entry, bool) {
	e, ok := s[t.Key()]
	if !ok || e.Deleted {
		return Entry{}, false
	}
	return e, true
}

// Live returns the non-deleted entries sorted by key.
func (s State) Live() []Entry {
	out := make([]Entry, 0, len(s))
	for _, e := range s {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target.Key() < out[j].Target.Key() })
	return out
}

func (s State) clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
