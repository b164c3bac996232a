package review

import (
	"strings"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// Category routes a change set to a reviewer with matching expertise.
type Category string

// Review categories, matched against reviewer capabilities.
const (
	CategorySecurity     Category = "security"
	CategoryArchitecture Category = "architecture"
	CategoryPerformance  Category = "performance"
	CategoryGeneral      Category = "general"
)

var categoryKeywords = map[Category][]string{
	CategorySecurity: {
		"auth", "password", "credential", "token", "secret",
		"crypto", "tls", "permission", "security", "vulnerab",
	},
	CategoryArchitecture: {
		"refactor", "architecture", "interface", "schema",
		"migration", "protocol", "api design", "restructur",
	},
	CategoryPerformance: {
		"performance", "optimiz", "cache", "latency",
		"throughput", "benchmark", "memory", "leak",
	},
}

// Classify picks the category whose keywords score highest against the
// task's title, description, and touched files. Ties and no-hits fall back
// to GENERAL.
func Classify(task *models.Task) Category {
	text := strings.ToLower(task.Title + "\n" + task.Description + "\n" + strings.Join(task.AffectedFiles, "\n"))

	best, bestScore := CategoryGeneral, 0
	for _, cat := range []Category{CategorySecurity, CategoryArchitecture, CategoryPerformance} {
		score := 0
		for _, kw := range categoryKeywords[cat] {
			score += strings.Count(text, kw)
		}
		if score > bestScore {
			best, bestScore = cat, score
		}
	}
	return best
}
