package gate

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

func newGate() *Gate {
	return New(&config.GateConfig{
		MinOutputChars:             20,
		SingleExecutionCapFraction: 0.1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func task(typ models.TaskType) *models.Task {
	return &models.Task{ID: "t1", Type: typ, Title: "x"}
}

func TestEvaluatePasses(t *testing.T) {
	d := newGate().Evaluate(task(models.TaskTypeSpike),
		"a sufficiently long spike writeup with findings", 50, 10000)
	assert.True(t, d.Pass)
	assert.Empty(t, d.Warning)
}

func TestEvaluateEmptyOutput(t *testing.T) {
	g := newGate()

	tests := []struct {
		name   string
		output string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t  "},
		{"below floor", "too short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(task(models.TaskTypeSpike), tt.output, 0, 0)
			assert.False(t, d.Pass)
			assert.Equal(t, ReasonEmptyOutput, d.Reason)
			assert.True(t, d.Retryable)
		})
	}
}

func TestEvaluateFatalPattern(t *testing.T) {
	g := newGate()

	d := g.Evaluate(task(models.TaskTypeSpike),
		"attempted the change but git said Permission Denied halfway through", 0, 0)
	assert.False(t, d.Pass)
	assert.Equal(t, ReasonFatalPattern, d.Reason)
	assert.True(t, d.Retryable, "tool failures are worth retrying")
}

func TestEvaluateCostCap(t *testing.T) {
	g := newGate()
	long := strings.Repeat("output ", 20)

	// Cap 10000, fraction 0.1 → single-execution limit 1000.
	d := g.Evaluate(task(models.TaskTypeSpike), long, 1001, 10000)
	assert.False(t, d.Pass)
	assert.Equal(t, ReasonCost, d.Reason)
	assert.False(t, d.Retryable, "retrying an over-budget execution only spends more")

	d = g.Evaluate(task(models.TaskTypeSpike), long, 1000, 10000)
	assert.True(t, d.Pass, "at the limit is allowed")

	d = g.Evaluate(task(models.TaskTypeSpike), long, 999999, 0)
	assert.True(t, d.Pass, "zero cap disables the cost check")
}

func TestEvaluateImplementationShapeWarning(t *testing.T) {
	g := newGate()

	d := g.Evaluate(task(models.TaskTypeImplementation),
		"here is a long prose answer without any structured edits", 0, 0)
	assert.True(t, d.Pass, "shape problems warn, they do not refuse")
	assert.NotEmpty(t, d.Warning)

	d = g.Evaluate(task(models.TaskTypeImplementation),
		`{"summary":"fix","files":[{"path":"a.go","content":"x"}]}`, 0, 0)
	assert.True(t, d.Pass)
	assert.Empty(t, d.Warning)

	// Raw code outside the envelope still reads as code, not prose.
	d = g.Evaluate(task(models.TaskTypeImplementation),
		"package claim\n\nfunc Claim(id string) bool { return id != \"\" }", 0, 0)
	assert.True(t, d.Pass)
	assert.Empty(t, d.Warning)

	// Non-implementation prose never warns.
	d = g.Evaluate(task(models.TaskTypeSpike),
		"here is a long prose answer without any structured edits", 0, 0)
	assert.True(t, d.Pass)
	assert.Empty(t, d.Warning)
}
