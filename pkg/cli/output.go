package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/telekom/trustcore/pkg/audit"
	"github.com/telekom/trustcore/pkg/health"
	"github.com/telekom/trustcore/pkg/policy"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// WriteObject renders obj as JSON or YAML. YAML goes through JSON first so
// both formats use the same field names.
func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		raw, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		data, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatTable:
		return fmt.Errorf("table format requires a specific formatter")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func WritePolicyTable(w io.Writer, eff policy.EffectivePolicy, decision *policy.Decision) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FIELD\tVALUE")
	_, _ = fmt.Fprintf(tw, "allow\t%s\n", joinOrDash(eff.Allow))
	_, _ = fmt.Fprintf(tw, "deny\t%s\n", joinOrDash(eff.Deny))
	_, _ = fmt.Fprintf(tw, "allowDomains\t%s\n", restriction(eff.AllowDomains))
	_, _ = fmt.Fprintf(tw, "writePaths\t%s\n", restriction(eff.WritePaths))
	_, _ = fmt.Fprintf(tw, "requireApproval\t%t\n", eff.RequireApproval)
	if decision != nil {
		_, _ = fmt.Fprintf(tw, "decision\t%s (%s)\n", decision.Outcome, decision.Reason)
	}
	_ = tw.Flush()
}

func WriteEventTable(w io.Writer, events []audit.Event) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tAGENT\tSKILL\tDECISION\tRISK\tID")
	for _, e := range events {
		decision := "-"
		if e.Decision != nil {
			decision = string(e.Decision.Outcome)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			formatMillis(e.Timestamp), e.EventType, dash(e.AgentID), dash(e.SkillID), decision, dash(string(e.RiskTier)), shortID(e.EventID))
	}
	_ = tw.Flush()
}

func WriteCircuitTable(w io.Writer, states []health.State) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tMODEL\tSTATUS\tFAILURES\tOPEN UNTIL")
	for _, s := range states {
		openUntil := "-"
		if s.OpenUntil != 0 {
			openUntil = formatMillis(s.OpenUntil)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.Provider, s.ModelRef, s.Status, len(s.Failures), openUntil)
	}
	_ = tw.Flush()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func restriction(items []string) string {
	if items == nil {
		return "(unrestricted)"
	}
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
