package provider

import (
	"strings"

	"slackstream/internal/domain"
)

// normalizeTurns drops assistant turns that precede the first user turn,
// skips empty turns and merges consecutive turns of the same role. Both
// remote APIs reject conversations that do not start with the user or do not
// alternate.
func normalizeTurns(turns []domain.Turn) []domain.Turn {
	var out []domain.Turn
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		if len(out) == 0 && t.Role != domain.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content = strings.Join([]string{out[n-1].Content, t.Content}, "\n")
			continue
		}
		out = append(out, t)
	}
	return out
}
