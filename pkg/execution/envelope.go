package execution

import (
	"encoding/json"
	"strings"
)

// FileEdit is one file operation in a brain's edit envelope.
type FileEdit struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Delete  bool   `json:"delete,omitempty"`
}

// EditEnvelope is the structured form of a brain output: a summary plus the
// file edits making up the change set.
type EditEnvelope struct {
	Summary string     `json:"summary"`
	Files   []FileEdit `json:"files"`
}

// parseEnvelope tries to read the output as an edit envelope, tolerating a
// markdown code fence. ok is false when the output is free text, which is
// normal for spike and documentation tasks.
func parseEnvelope(output string) (*EditEnvelope, bool) {
	s := strings.TrimSpace(output)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var env EditEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil || len(env.Files) == 0 {
		return nil, false
	}
	return &env, true
}
