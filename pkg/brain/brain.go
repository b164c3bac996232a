// Package brain invokes external brain providers and measures what they cost.
//
// A provider is a black box reached over one of two transports: a subprocess
// spoken to over stdin/stdout, or an HTTP endpoint. Either way the reply is a
// JSON envelope carrying the output text, token counts and timing; the
// gateway converts tokens to sub-cents using the provider's configured rates.
package brain

import (
	"errors"
	"time"
)

// Invocation failure classes. Callers dispatch with errors.Is; only
// ErrTimeout is attributable to the wall clock.
var (
	ErrTimeout  = errors.New("brain invocation timed out")
	ErrProvider = errors.New("brain provider failed")
	ErrParse    = errors.New("brain reply unparsable")
)

// Request is one prompt sent to a provider.
type Request struct {
	Provider string
	Prompt   string
}

// Result is the measured outcome of a successful invocation.
type Result struct {
	Output        string
	InputTokens   int64
	OutputTokens  int64
	BrainDuration time.Duration
	// CostSubCents = tokens × configured per-1k rates, rounded half-up.
	CostSubCents int64
}

// envelope is the wire format both transports reply with.
type envelope struct {
	Output       string `json:"output"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// costSubCents prices a token count at rate sub-cents per 1000 tokens,
// rounding half-up so fractional sub-cents never undercount.
func costSubCents(tokens, ratePer1K int64) int64 {
	return (tokens*ratePer1K + 500) / 1000
}
