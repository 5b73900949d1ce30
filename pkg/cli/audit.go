package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/audit"
	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/stablehash"
	"github.com/telekom/trustcore/pkg/subscription"
)

// ErrVerificationFailed is returned by "audit verify" when any record does not
// match its event id.
var ErrVerificationFailed = errors.New("audit log verification failed")

func NewAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with JSONL audit logs",
	}
	cmd.AddCommand(
		newAuditReplayCommand(),
		newAuditHashCommand(),
		newAuditVerifyCommand(),
	)
	return cmd
}

type replayOutput struct {
	Stats  audit.ReplayStats `json:"stats"`
	Events []audit.Event     `json:"events"`
}

func newAuditReplayCommand() *cobra.Command {
	var (
		filter    subscription.Filter
		decision  string
		riskTiers []string
		sinceTs   int64
	)

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Replay a JSONL audit log and print the matching events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			filter.DecisionOutcome = audit.Outcome(decision)
			filter.RiskTiers = nil
			for _, r := range riskTiers {
				filter.RiskTiers = append(filter.RiskTiers, audit.RiskTier(r))
			}
			if cmd.Flags().Changed("since") {
				filter.SinceTs = audit.Since(sinceTs)
			}
			if err := filter.Validate(); err != nil {
				return err
			}

			f, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			mem := audit.NewMemorySink("replay")
			stats, err := audit.Replay(cmd.Context(), f, mem)
			if err != nil {
				return err
			}
			rt.Logger().Debug("Replayed audit log",
				zap.String("path", args[0]),
				zap.Int("read", stats.Read),
				zap.Int("skipped", stats.Skipped))

			out := replayOutput{Stats: stats, Events: selectReplayed(mem, filter)}
			if rt.OutputFormat() == FormatTable {
				WriteEventTable(rt.Writer(), out.Events)
				_, err := fmt.Fprintf(rt.Writer(), "\n%d matching of %d read, %d skipped\n", len(out.Events), stats.Read, stats.Skipped)
				return err
			}
			return WriteObject(rt.Writer(), rt.OutputFormat(), out)
		},
	}

	cmd.Flags().StringVar(&filter.AgentID, "agent", "", "Only events for this agent id")
	cmd.Flags().StringSliceVar(&filter.EventTypes, "event-type", nil, "Only these event types (repeatable or comma-separated)")
	cmd.Flags().StringSliceVar(&filter.ModelRefs, "model-ref", nil, "Only events whose payload modelRef is one of these")
	cmd.Flags().StringVar(&decision, "decision", "", "Only events with this decision outcome")
	cmd.Flags().StringSliceVar(&riskTiers, "risk-tier", nil, "Only events with one of these risk tiers")
	cmd.Flags().Int64Var(&sinceTs, "since", 0, "Only events at or after this unix millisecond timestamp")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Keep only the most recent N matching events (0 = all)")

	return cmd
}

func selectReplayed(mem *audit.MemorySink, f subscription.Filter) []audit.Event {
	snap := mem.Snapshot(audit.SnapshotFilter{SinceTs: f.SinceTs})
	matched := make([]audit.Event, 0, len(snap.Events))
	for _, e := range snap.Events {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[len(matched)-f.Limit:]
	}
	return matched
}

type hashOutput struct {
	Digest    string `json:"digest"`
	Canonical string `json:"canonical"`
}

func newAuditHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file|->",
		Short: "Print the stable digest of a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			f, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			data, err := io.ReadAll(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var v payload.Value
			if err := v.UnmarshalJSON(data); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			canonical, err := stablehash.Canonical(v)
			if err != nil {
				return err
			}
			out := hashOutput{Digest: stablehash.SumBytes(canonical), Canonical: string(canonical)}

			if rt.OutputFormat() == FormatTable {
				_, err := fmt.Fprintln(rt.Writer(), out.Digest)
				return err
			}
			return WriteObject(rt.Writer(), rt.OutputFormat(), out)
		},
	}
}

type verifyResult struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

type verifyOutput struct {
	Checked int            `json:"checked"`
	Skipped int            `json:"skipped"`
	Invalid int            `json:"invalid"`
	Results []verifyResult `json:"results,omitempty"`
}

func newAuditVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check that every record's eventId matches its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			f, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			events, skipped, err := audit.ReadJSONL(f)
			if err != nil {
				return err
			}

			out := verifyOutput{Checked: len(events), Skipped: skipped}
			for _, e := range events {
				ok, verr := audit.Verify(e)
				if ok {
					continue
				}
				res := verifyResult{EventID: e.EventID, EventType: e.EventType}
				if verr != nil {
					res.Error = verr.Error()
				}
				out.Invalid++
				out.Results = append(out.Results, res)
			}

			if rt.OutputFormat() == FormatTable {
				writeVerifyTable(rt.Writer(), out)
			} else if err := WriteObject(rt.Writer(), rt.OutputFormat(), out); err != nil {
				return err
			}
			if out.Invalid > 0 {
				return fmt.Errorf("%w: %d of %d events", ErrVerificationFailed, out.Invalid, out.Checked)
			}
			return nil
		},
	}
}

func writeVerifyTable(w io.Writer, out verifyOutput) {
	if len(out.Results) > 0 {
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "EVENT ID\tTYPE\tERROR")
		for _, r := range out.Results {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", dash(r.EventID), r.EventType, dash(r.Error))
		}
		_ = tw.Flush()
	}
	_, _ = fmt.Fprintf(w, "%d checked, %d invalid, %d skipped\n", out.Checked, out.Invalid, out.Skipped)
}

// openInput opens path, or stdin for "-".
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
