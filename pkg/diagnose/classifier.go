package diagnose

import "strings"

// ReasonCode is the closed set of failure classifications.
type ReasonCode string

const (
	ReasonOOMKilled    ReasonCode = "oom_killed"
	ReasonTimeout      ReasonCode = "timeout"
	ReasonNetworkError ReasonCode = "network_error"
	ReasonRateLimited  ReasonCode = "rate_limited"
	ReasonPreflight    ReasonCode = "preflight_failed"
	ReasonRepoNotFound ReasonCode = "repo_not_found"
	ReasonWorkerDied   ReasonCode = "worker_died"
	ReasonStepFailed   ReasonCode = "step_failed"
	ReasonUnknown      ReasonCode = "unknown"
)

// oom exit codes: 137 = SIGKILL (the kernel OOM killer), 139 = SIGSEGV.
var oomExitCodes = map[int]bool{137: true, 139: true}

// IsOOMExitCode reports whether an exit code indicates an OOM kill.
func IsOOMExitCode(code int) bool {
	return oomExitCodes[code]
}

// Retryable reports whether a reason code describes a transient condition
// that may succeed on retry.
func (r ReasonCode) Retryable() bool {
	return r == ReasonTimeout || r == ReasonNetworkError || r == ReasonRateLimited
}

// keyword groups checked in order; the first hit wins. More specific
// phrases come before generic ones.
var classifierRules = []struct {
	code     ReasonCode
	keywords []string
}{
	{ReasonRateLimited, []string{"rate limit", "rate-limit", "too many requests", "429", "quota exceeded"}},
	{ReasonOOMKilled, []string{"out of memory", "oom-kill", "oom kill", "oomkilled", "cannot allocate memory"}},
	{ReasonTimeout, []string{"timed out", "timeout", "deadline exceeded"}},
	{ReasonNetworkError, []string{"connection refused", "connection reset", "network is unreachable", "no such host", "dns", "broken pipe", "connection closed", "network error"}},
	{ReasonRepoNotFound, []string{"repository not found", "repo not found", "not a git repository", "could not read from remote"}},
	{ReasonPreflight, []string{"preflight", "bootstrap failed", "bootstrap error", "workspace setup failed"}},
}

// Classify maps free-form error text to a reason code by keyword matching
// over the lower-cased text. Unrecognized text classifies as unknown.
func Classify(text string) ReasonCode {
	lowered := strings.ToLower(text)
	if lowered == "" {
		return ReasonUnknown
	}
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.code
			}
		}
	}
	return ReasonUnknown
}
