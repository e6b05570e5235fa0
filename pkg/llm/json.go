package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> tags that may appear at the start of LLM responses.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// fencedJSONPattern extracts the body of a ```json ... ``` code block.
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSONObject pulls a single JSON object out of an LLM reply. Parsing
// strategy: direct decode, then a fenced code block, then the outermost
// balanced {...} slice. Think tags are stripped first.
func ExtractJSONObject(response string) (map[string]any, error) {
	cleaned := strings.TrimSpace(thinkTagPattern.ReplaceAllString(response, ""))

	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	if matches := fencedJSONPattern.FindStringSubmatch(cleaned); len(matches) >= 2 {
		candidate := strings.TrimSpace(matches[1])
		out = nil
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out, nil
		}
	}

	if candidate, ok := extractBalancedObject(cleaned); ok {
		out = nil
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in response")
}

// extractBalancedObject finds the first balanced {...} structure, tracking
// string literals and escapes so braces inside strings do not count.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
