package review

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		task *models.Task
		want Category
	}{
		{
			name: "security by title",
			task: &models.Task{Title: "Rotate auth token signing secret"},
			want: CategorySecurity,
		},
		{
			name: "security by files",
			task: &models.Task{
				Title:         "update middleware",
				AffectedFiles: []string{"internal/auth/password.go", "internal/auth/crypto.go"},
			},
			want: CategorySecurity,
		},
		{
			name: "architecture",
			task: &models.Task{
				Title:       "Refactor storage interface",
				Description: "split the schema migration out of the storage interface",
			},
			want: CategoryArchitecture,
		},
		{
			name: "performance",
			task: &models.Task{
				Title:       "Fix memory leak in cache",
				Description: "latency regression under load",
			},
			want: CategoryPerformance,
		},
		{
			name: "no keywords falls back to general",
			task: &models.Task{Title: "Update the README wording"},
			want: CategoryGeneral,
		},
		{
			name: "empty task",
			task: &models.Task{},
			want: CategoryGeneral,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.task))
		})
	}
}
