package diagnose

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/stores"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want ReasonCode
	}{
		{"", ReasonUnknown},
		{"something odd happened", ReasonUnknown},
		{"request timed out after 30s", ReasonTimeout},
		{"context deadline exceeded", ReasonTimeout},
		{"dial tcp: connection refused", ReasonNetworkError},
		{"lookup api.example.com: no such host", ReasonNetworkError},
		{"HTTP 429 Too Many Requests", ReasonRateLimited},
		{"API rate limit exceeded for installation", ReasonRateLimited},
		{"fatal: repository not found", ReasonRepoNotFound},
		{"fatal: not a git repository", ReasonRepoNotFound},
		{"preflight check failed: missing toolchain", ReasonPreflight},
		{"runner bootstrap failed", ReasonPreflight},
		{"container OOMKilled", ReasonOOMKilled},
		{"fork: cannot allocate memory", ReasonOOMKilled},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestReasonCodeRetryable(t *testing.T) {
	for _, r := range []ReasonCode{ReasonTimeout, ReasonNetworkError, ReasonRateLimited} {
		if !r.Retryable() {
			t.Errorf("%s should be retryable", r)
		}
	}
	for _, r := range []ReasonCode{ReasonOOMKilled, ReasonRepoNotFound, ReasonUnknown, ReasonWorkerDied} {
		if r.Retryable() {
			t.Errorf("%s should not be retryable", r)
		}
	}
}

func TestIsOOMExitCode(t *testing.T) {
	if !IsOOMExitCode(137) || !IsOOMExitCode(139) {
		t.Error("137 and 139 must classify as oom")
	}
	if IsOOMExitCode(1) || IsOOMExitCode(0) {
		t.Error("ordinary exit codes must not classify as oom")
	}
}

func setupDiagnoseStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.OpenWorkspace(context.Background(), t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDiagnoseScansEventTail(t *testing.T) {
	store := setupDiagnoseStore(t)
	ctx := context.Background()

	errMsg := "agent turn failed"
	rec := &flow.RunRecord{
		ID:           "r1",
		FlowType:     "ticket",
		Status:       flow.RunStatusFailed,
		CurrentStep:  "implement",
		ErrorMessage: &errMsg,
		State: map[string]any{
			flow.DefaultHooksNamespace: map[string]any{"ticket_id": "T-42"},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateFlowRun(ctx, rec); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// An early command completion, then an approval request naming a
	// command, then a crash mid-step. The approval request must win.
	appendEvent := func(et flow.EventType, data map[string]any) {
		t.Helper()
		if _, err := store.AppendEvent(ctx, "r1", et, "implement", data); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	appendEvent(flow.EventStepProgress, map[string]any{
		"command": "go test ./...", "exit_code": 1, "stderr": "FAIL: TestThing\nexit status 1",
	})
	appendEvent(flow.EventStepProgress, map[string]any{
		"command": "rm -rf build", "approval_requested": true,
	})

	p := Diagnose(ctx, rec, store)

	if p.TicketID != "T-42" {
		t.Errorf("ticket_id = %q, want T-42", p.TicketID)
	}
	if p.Step != "implement" {
		t.Errorf("step = %q", p.Step)
	}
	if p.LastCommand != "rm -rf build" {
		t.Errorf("last_command = %q, want the approval-requested command", p.LastCommand)
	}
	if p.ExitCode == nil || *p.ExitCode != 1 {
		t.Errorf("exit_code = %v, want 1", p.ExitCode)
	}
	if !strings.Contains(p.StderrTail, "FAIL: TestThing") {
		t.Errorf("stderr_tail = %q", p.StderrTail)
	}
	if p.LastEventSeq != 2 {
		t.Errorf("last_event_seq = %d, want 2", p.LastEventSeq)
	}
}

func TestDiagnoseOOMExitCode(t *testing.T) {
	store := setupDiagnoseStore(t)
	ctx := context.Background()

	rec := &flow.RunRecord{
		ID: "r1", FlowType: "ticket", Status: flow.RunStatusFailed, CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateFlowRun(ctx, rec); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.AppendEvent(ctx, "r1", flow.EventStepProgress, "", map[string]any{
		"command": "cargo build", "exit_code": 137,
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	p := Diagnose(ctx, rec, store)
	if p.ReasonCode != ReasonOOMKilled {
		t.Errorf("reason = %s, want oom_killed", p.ReasonCode)
	}
	if p.Retryable {
		t.Error("oom failure must not be retryable")
	}
}

func TestDiagnoseWithoutStore(t *testing.T) {
	errMsg := "connection reset by peer"
	rec := &flow.RunRecord{
		ID: "r1", Status: flow.RunStatusFailed, ErrorMessage: &errMsg, CreatedAt: time.Now().UTC(),
	}

	p := Diagnose(context.Background(), rec, nil)
	if p.ReasonCode != ReasonNetworkError {
		t.Errorf("reason = %s, want network_error", p.ReasonCode)
	}
	if !p.Retryable {
		t.Error("network failure should be retryable")
	}
	if p.StderrTail != errMsg {
		t.Errorf("stderr_tail = %q, want the error message fallback", p.StderrTail)
	}
}

func TestEnsurePayloadIdempotent(t *testing.T) {
	first := &FailurePayload{FailedAt: "2026-01-01T00:00:00Z", ReasonCode: ReasonTimeout}
	state := EnsurePayload(nil, first)

	if state[flow.StateKeyFailure] == nil || state[flow.StateKeyReasonSummary] == nil {
		t.Fatal("payload not written")
	}

	second := &FailurePayload{FailedAt: "2026-02-02T00:00:00Z", ReasonCode: ReasonNetworkError}
	state = EnsurePayload(state, second)

	got := PayloadFromState(state)
	if got == nil || got.FailedAt != "2026-01-01T00:00:00Z" {
		t.Errorf("existing payload was overwritten: %+v", got)
	}
}

func TestFormatSummaryBounded(t *testing.T) {
	code := 137
	p := &FailurePayload{
		Step:        "implement",
		ReasonCode:  ReasonOOMKilled,
		LastCommand: strings.Repeat("verylongcommand ", 30),
		ExitCode:    &code,
		StderrTail:  strings.Repeat("x", 400),
	}
	s := FormatSummary(p)
	if len(s) > 160 {
		t.Errorf("summary length %d exceeds bound", len(s))
	}
	if !strings.HasPrefix(s, "failure: step implement, oom_killed") {
		t.Errorf("unexpected summary: %q", s)
	}

	if FormatSummary(nil) == "" {
		t.Error("nil payload must still render")
	}
	if FormatSummary(&FailurePayload{}) == "" {
		t.Error("empty payload must still render")
	}
}

func TestTruncateTail(t *testing.T) {
	text := "l1\nl2\nl3\nl4\nl5\nl6\nl7\n"
	tail := truncateTail(text)
	if strings.Contains(tail, "l2") || !strings.Contains(tail, "l7") {
		t.Errorf("tail = %q, want last 5 lines", tail)
	}
	long := strings.Repeat("a", 500)
	if len(truncateTail(long)) != 320 {
		t.Errorf("tail not bounded to 320 chars: %d", len(truncateTail(long)))
	}
	multibyte := strings.Repeat("世", 200)
	got := truncateTail(multibyte)
	if !utf8.ValidString(got) {
		t.Errorf("tail is not valid UTF-8: %q", got)
	}
	if len(got) > 320 {
		t.Errorf("multibyte tail not bounded: %d", len(got))
	}
}
