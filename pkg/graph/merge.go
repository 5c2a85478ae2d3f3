package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConflictRecord reports an incoming write that lost to a newer one.
type ConflictRecord struct {
	Target           Target    `json:"target"`
	WinnerProvenance string    `json:"winner_provenance"`
	LoserProvenance  string    `json:"loser_provenance"`
	WinnerTimestamp  time.Time `json:"winner_timestamp"`
	LoserTimestamp   time.Time `json:"loser_timestamp"`
}

func (c ConflictRecord) String() string {
	return fmt.Sprintf("%s: %s@%s beat %s@%s", c.Target,
		c.WinnerProvenance, c.WinnerTimestamp.Format(time.RFC3339Nano),
		c.LoserProvenance, c.LoserTimestamp.Format(time.RFC3339Nano))
}

// Merge applies patches to current with last-write-wins per target.
//
// For every target the newest write among the prior entry and the incoming
// patches wins. Each incoming patch that is strictly older than the winner
// becomes a ConflictRecord; a patch identical to the winner is a duplicate
// and records nothing. Neither the resulting state nor the sorted conflict
// list depends on the order of patches. current is not modified.
func Merge(current State, patches []GraphPatch) (State, []ConflictRecord) {
	next := current.clone()

	groups := make(map[string][]Entry)
	for _, p := range patches {
		key := p.Target.Key()
		groups[key] = append(groups[key], p.entry())
	}

	var conflicts []ConflictRecord
	for key, incoming := range groups {
		winner := incoming[0]
		for _, e := range incoming[1:] {
			if compare(e, winner) > 0 {
				winner = e
			}
		}
		if prior, ok := current[key]; ok && compare(prior, winner) > 0 {
			winner = prior
		}

		next[key] = winner

		for _, e := range incoming {
			if compare(e, winner) < 0 {
				conflicts = append(conflicts, ConflictRecord{
					Target:           e.Target,
					WinnerProvenance: winner.Provenance,
					LoserProvenance:  e.Provenance,
					WinnerTimestamp:  winner.Timestamp,
					LoserTimestamp:   e.Timestamp,
				})
			}
		}
	}

	sortConflicts(conflicts)
	return next, conflicts
}

func sortConflicts(cs []ConflictRecord) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if c := strings.Compare(a.Target.Key(), b.Target.Key()); c != 0 {
			return c < 0
		}
		if a.LoserProvenance != b.LoserProvenance {
			return a.LoserProvenance < b.LoserProvenance
		}
		return a.LoserTimestamp.Before(b.LoserTimestamp)
	})
}
