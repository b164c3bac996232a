// Package gate decides whether a brain output is worth publishing.
//
// The gate runs after cost is already recorded: a refused output still cost
// what it cost. Presence checks are retryable; the cost check is not, since
// retrying an over-budget execution only spends more.
package gate

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// Refusal reasons.
const (
	ReasonEmptyOutput  = "EMPTY_OUTPUT"
	ReasonFatalPattern = "FATAL_PATTERN"
	ReasonCost         = "COST"
)

// fatalPatterns mark an output as a tool failure transcript rather than a
// result, regardless of length.
var fatalPatterns = []string{
	"error:",
	"fatal:",
	"permission denied",
	"command failed",
}

// Decision is the gate's verdict on one execution.
type Decision struct {
	Pass      bool
	Retryable bool   // meaningful only when !Pass
	Reason    string // refusal reason code
	Detail    string
	Warning   string // non-fatal shape advisory
}

// Gate evaluates outputs against the configured floors and the org's budget.
type Gate struct {
	cfg    *config.GateConfig
	logger *slog.Logger
}

// New creates a Gate.
func New(cfg *config.GateConfig, logger *slog.Logger) *Gate {
	return &Gate{cfg: cfg, logger: logger.With("component", "gate")}
}

// Evaluate checks one execution's output and cost. dailyCapSubCents of zero
// means the org is uncapped and the cost check is skipped.
func (g *Gate) Evaluate(task *models.Task, output string, costSubCents, dailyCapSubCents int64) Decision {
	trimmed := strings.TrimSpace(output)
	if len(trimmed) < g.cfg.MinOutputChars {
		return g.refuse(task, ReasonEmptyOutput, "output below presence floor", true)
	}
	lower := strings.ToLower(trimmed)
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return g.refuse(task, ReasonFatalPattern, "output contains "+strconv.Quote(p), true)
		}
	}
	if dailyCapSubCents > 0 {
		limit := int64(float64(dailyCapSubCents) * g.cfg.SingleExecutionCapFraction)
		if costSubCents > limit {
			return g.refuse(task, ReasonCost, "single execution exceeded budget fraction", false)
		}
	}

	d := Decision{Pass: true}
	if task.Type == models.TaskTypeImplementation && !looksLikeCode(trimmed) {
		// Advisory only: reviewers catch substance, the gate catches shape.
		d.Warning = "implementation output looks like prose, not code"
	}
	return d
}

// codeIndicators are tokens prose essentially never contains but code in any
// mainstream language does. One hit is enough; the edit envelope's JSON
// braces count too.
var codeIndicators = []string{
	";", "{", "}",
	"func ", "function ", "class ", "def ",
	"import ", "export ", "#include",
}

func looksLikeCode(s string) bool {
	for _, ind := range codeIndicators {
		if strings.Contains(s, ind) {
			return true
		}
	}
	return false
}

func (g *Gate) refuse(task *models.Task, reason, detail string, retryable bool) Decision {
	g.logger.Warn("gate refused output",
		"task_id", task.ID, "reason", reason, "retryable", retryable)
	return Decision{Pass: false, Retryable: retryable, Reason: reason, Detail: detail}
}
