package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/stores"
)

const (
	// tailScanLimit bounds how far back the event log is scanned.
	tailScanLimit = 50

	stderrTailMaxLines = 5
	stderrTailMaxChars = 320

	summaryMaxChars = 160
)

// FailurePayload is the bounded failure summary stored under the run
// state's "failure" key and rendered for display contexts.
type FailurePayload struct {
	FailedAt     string     `json:"failed_at"`
	TicketID     string     `json:"ticket_id,omitempty"`
	Step         string     `json:"step,omitempty"`
	LastCommand  string     `json:"last_command,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	StderrTail   string     `json:"stderr_tail,omitempty"`
	Retryable    bool       `json:"retryable"`
	FailureClass string     `json:"failure_class,omitempty"`
	ReasonCode   ReasonCode `json:"failure_reason_code"`
	LastEventSeq int64      `json:"last_event_seq,omitempty"`
	LastEventAt  string     `json:"last_event_at,omitempty"`
}

// Diagnose derives a failure payload for a run. The store is optional;
// without it only the record itself is consulted. Diagnose never fails:
// missing information just leaves fields empty.
func Diagnose(ctx context.Context, rec *flow.RunRecord, store stores.Store) *FailurePayload {
	p := &FailurePayload{
		FailedAt:   time.Now().UTC().Format(time.RFC3339),
		Step:       rec.CurrentStep,
		TicketID:   ticketID(rec),
		ReasonCode: ReasonUnknown,
	}

	errText := ""
	if rec.ErrorMessage != nil {
		errText = *rec.ErrorMessage
	}

	if store != nil {
		// The log may end mid-write after a crash; scan whatever tail
		// exists and never assume it ends cleanly.
		events, err := store.GetRecentEvents(ctx, rec.ID, tailScanLimit)
		if err == nil {
			scanTail(p, events)
		}
		if seq, at, err := store.GetLastEventMeta(ctx, rec.ID); err == nil && seq > 0 {
			p.LastEventSeq = seq
			p.LastEventAt = at.UTC().Format(time.RFC3339)
		}
	}

	if p.ExitCode != nil && IsOOMExitCode(*p.ExitCode) {
		p.ReasonCode = ReasonOOMKilled
	} else {
		text := errText
		if text == "" {
			text = p.StderrTail
		}
		if code := Classify(text); code != ReasonUnknown {
			p.ReasonCode = code
		}
	}
	p.Retryable = p.ReasonCode.Retryable()

	// An explicit workflow-reported reason code wins the free-text class.
	if code := workflowReasonCode(rec); code != "" {
		p.FailureClass = code
	} else {
		p.FailureClass = string(p.ReasonCode)
	}

	if p.StderrTail == "" && errText != "" {
		p.StderrTail = truncateTail(errText)
	}

	return p
}

// scanTail walks events newest-first filling in command, exit code and
// stderr. An approval-request event naming a command takes precedence over
// a plain command completion.
func scanTail(p *FailurePayload, newestFirst []*flow.Event) {
	var fallbackCommand string
	for _, e := range newestFirst {
		data := e.Data
		if data == nil {
			continue
		}
		if cmd, ok := data[flow.EventDataCommand].(string); ok && cmd != "" {
			if approval, _ := data["approval_requested"].(bool); approval && p.LastCommand == "" {
				p.LastCommand = cmd
			} else if fallbackCommand == "" {
				fallbackCommand = cmd
			}
		}
		if p.ExitCode == nil {
			if code, ok := numericField(data, flow.EventDataExitCode); ok {
				c := code
				p.ExitCode = &c
			}
		}
		if p.StderrTail == "" {
			if stderr, ok := data[flow.EventDataStderr].(string); ok && stderr != "" {
				p.StderrTail = truncateTail(stderr)
			} else if msg, ok := data[flow.EventDataError].(string); ok && msg != "" {
				p.StderrTail = truncateTail(msg)
			}
		}
	}
	if p.LastCommand == "" {
		p.LastCommand = fallbackCommand
	}
}

// EnsurePayload writes the payload into the state's failure key, plus the
// rendered summary. Idempotent: an existing payload that already has
// failed_at set is never overwritten. Returns the (possibly new) state.
func EnsurePayload(state map[string]any, p *FailurePayload) map[string]any {
	out := flow.CloneState(state)
	if out == nil {
		out = map[string]any{}
	}
	if existing, ok := out[flow.StateKeyFailure].(map[string]any); ok {
		if at, _ := existing["failed_at"].(string); at != "" {
			return out
		}
	}
	out[flow.StateKeyFailure] = p.toMap()
	out[flow.StateKeyReasonSummary] = FormatSummary(p)
	return out
}

// PayloadFromState extracts an existing failure payload from run state, or
// nil when none is recorded.
func PayloadFromState(state map[string]any) *FailurePayload {
	m, ok := state[flow.StateKeyFailure].(map[string]any)
	if !ok {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	p := &FailurePayload{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil
	}
	return p
}

// FormatSummary renders a single bounded human-readable line from the
// payload. Missing fields are simply skipped; it never fails.
func FormatSummary(p *FailurePayload) string {
	if p == nil {
		return "failure (no details)"
	}
	parts := []string{}
	if p.Step != "" {
		parts = append(parts, "step "+p.Step)
	}
	if p.ReasonCode != "" && p.ReasonCode != ReasonUnknown {
		parts = append(parts, string(p.ReasonCode))
	}
	if p.LastCommand != "" {
		parts = append(parts, fmt.Sprintf("cmd %q", p.LastCommand))
	}
	if p.ExitCode != nil {
		parts = append(parts, fmt.Sprintf("exit %d", *p.ExitCode))
	}
	if p.StderrTail != "" {
		parts = append(parts, firstLine(p.StderrTail))
	}
	summary := "failure"
	if len(parts) > 0 {
		summary = "failure: " + strings.Join(parts, ", ")
	}
	if len(summary) > summaryMaxChars {
		summary = strings.ToValidUTF8(summary[:summaryMaxChars-3], "") + "..."
	}
	return summary
}

func (p *FailurePayload) toMap() map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return map[string]any{"failed_at": p.FailedAt}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"failed_at": p.FailedAt}
	}
	return m
}

// ticketID pulls the conventional nested ticket id, when present.
func ticketID(rec *flow.RunRecord) string {
	for _, m := range []map[string]any{rec.State, rec.InputData} {
		if m == nil {
			continue
		}
		if nested, ok := m[flow.DefaultHooksNamespace].(map[string]any); ok {
			if id, ok := nested["ticket_id"].(string); ok && id != "" {
				return id
			}
		}
		if id, ok := m["ticket_id"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

// workflowReasonCode returns an explicit reason code reported by the
// workflow into its nested state, when present.
func workflowReasonCode(rec *flow.RunRecord) string {
	if rec.State == nil {
		return ""
	}
	nested, ok := rec.State[flow.DefaultHooksNamespace].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := nested["reason_code"].(string)
	return code
}

func numericField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func truncateTail(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > stderrTailMaxLines {
		lines = lines[len(lines)-stderrTailMaxLines:]
	}
	tail := strings.Join(lines, "\n")
	if len(tail) > stderrTailMaxChars {
		tail = strings.ToValidUTF8(tail[len(tail)-stderrTailMaxChars:], "")
	}
	return tail
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
