// Package jsonx extracts structured JSON from free-form LLM replies.
//
// Models asked for JSON frequently wrap it in markdown fences, preamble text,
// or truncate it mid-object. Extract applies a fixed precedence of heuristics:
//
//  1. a fenced ```json block
//  2. any fenced block that parses as JSON
//  3. a truncated fenced block repaired by closing open brackets
//  4. the largest balanced object or array in the raw text
//
// The heuristic is necessarily imperfect; callers should treat extraction
// failure as non-fatal.
package jsonx

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no candidate JSON value could be extracted.
var ErrNoJSON = errors.New("jsonx: no JSON value found")

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedAnyRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	openFenceRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*)$")
)

// Extract returns the first JSON value found in text following the documented
// precedence, unmarshaled into v.
func Extract(text string, v any) error {
	raw, err := ExtractRaw(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// ExtractRaw returns the raw JSON string found in text.
func ExtractRaw(text string) (string, error) {
	// 1. Fenced ```json block.
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	// 2. Any fenced block that parses.
	for _, m := range fencedAnyRe.FindAllStringSubmatch(text, -1) {
		if candidate := strings.TrimSpace(m[1]); json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	// 3. An unterminated fence: repair by closing open brackets.
	if strings.Count(text, "```")%2 == 1 {
		idx := strings.LastIndex(text, "```")
		if m := openFenceRe.FindStringSubmatch(text[idx:]); m != nil {
			if repaired, ok := repairTruncated(strings.TrimSpace(m[1])); ok {
				return repaired, nil
			}
		}
	}

	// 4. Largest balanced object or array anywhere in the text.
	if candidate, ok := largestBalanced(text); ok {
		return candidate, nil
	}

	return "", ErrNoJSON
}

// repairTruncated appends the closers for any unclosed brackets, stripping a
// trailing partial token first. Returns false if the result still fails to
// parse.
func repairTruncated(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return "", false
	}

	// Drop a trailing dangling comma or partial literal.
	s = strings.TrimRight(s, " \t\n\r")
	s = strings.TrimRight(s, ",")

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}

	if !json.Valid([]byte(s)) {
		return "", false
	}
	return s, true
}

// largestBalanced scans for balanced {...} or [...] spans and returns the
// longest one that parses as JSON.
func largestBalanced(text string) (string, bool) {
	best := ""
	for i := 0; i < len(text); i++ {
		open := text[i]
		if open != '{' && open != '[' {
			continue
		}
		closer := byte('}')
		if open == '[' {
			closer = ']'
		}
		depth := 0
		inString := false
		escaped := false
		for j := i; j < len(text); j++ {
			c := text[j]
			if escaped {
				escaped = false
				continue
			}
			switch {
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == open:
				depth++
			case c == closer:
				depth--
				if depth == 0 {
					candidate := text[i : j+1]
					if len(candidate) > len(best) && json.Valid([]byte(candidate)) {
						best = candidate
					}
					j = len(text) // done with this start
				}
			}
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
