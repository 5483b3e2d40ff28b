package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnmarshalJSONResponse decodes a JSON object from an LLM response into
// v, stripping the markdown code fences models like to wrap JSON in.
func UnmarshalJSONResponse(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty response")
	}

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return nil
}
