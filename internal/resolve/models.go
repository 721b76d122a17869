package resolve

import (
	"strconv"
	"strings"
)

// ExpandWeightedModels turns a comma-separated model list with optional
// "model|weight" suffixes into an ordered sequence where each model
// appears weight times. Splitting on the last '|' keeps model names
// that themselves contain pipes intact. Invalid or missing weights
// count as 1.
func ExpandWeightedModels(spec string) []string {
	var expanded []string
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		model := token
		count := 1
		if idx := strings.LastIndex(token, "|"); idx >= 0 {
			model = strings.TrimSpace(token[:idx])
			if n, err := strconv.Atoi(strings.TrimSpace(token[idx+1:])); err == nil && n > 1 {
				count = n
			}
			if model == "" {
				continue
			}
		}
		for i := 0; i < count; i++ {
			expanded = append(expanded, model)
		}
	}
	return expanded
}
