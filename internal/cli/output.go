package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pixperk/stompguard/pkg/introspect"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeLocks(w io.Writer, report introspect.LocksReport) error {
	if len(report.Locks) == 0 {
		_, err := fmt.Fprintf(w, "no locks held (fencing counter %d)\n", report.FencingCounter)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tAGENT\tTOKEN\tREMAINING")
	for _, l := range report.Locks {
		remaining := time.Duration(l.RemainingMs) * time.Millisecond
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", l.Key, l.Agent, l.Token, remaining)
	}
	return tw.Flush()
}

func writeContention(w io.Writer, report introspect.ContentionReport) error {
	if len(report.Keys) == 0 {
		_, err := fmt.Fprintln(w, "no guarded runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tRUNS\tBUSY\tERRORS\tAVG WAIT\tMAX WAIT\tLAST HOLDER")
	for _, k := range report.Keys {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.1fms\t%.1fms\t%s\n",
			k.Key, k.Runs, k.Busy, k.Errors, k.AvgWaitMs, k.MaxWaitMs, k.LastHolder)
	}
	return tw.Flush()
}

// writePolicies renders the class table for both the local and the remote
// policy command.
func writePolicies(w io.Writer, report introspect.PoliciesReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tMODE\tPREFIX\tTTL\tINTERACTIVE\tBATCH\tSTRATEGY")
	for _, p := range report.Classes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Class, p.Mode, p.KeyPrefix, p.LeaseTTL, p.InteractiveMaxWait, p.BatchMaxWait, p.ConflictStrategy)
	}
	return tw.Flush()
}

func writeKey(w io.Writer, view introspect.KeyView) error {
	holder := "free"
	if view.HeldBy != "" {
		holder = "held by " + view.HeldBy
	}
	_, err := fmt.Fprintf(w, "%s (%s): %s\n", view.Key, view.Class, holder)
	return err
}
