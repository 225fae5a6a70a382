// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/debtstack/debtstack/internal/xerrors"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// ExtractJSON pulls a JSON object/array out of common LLM wrappers (markdown
// code fences, leading prose, trailing commentary) and repairs common
// defects (unquoted keys, trailing commas) before giving up.
func ExtractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)

	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", xerrors.LLMParse("no JSON object or array found in response", nil)
	}
	text = text[start:]

	end := matchingBracketEnd(text)
	if end < 0 {
		// truncated output: try the whole remainder and let repair/validation
		// downstream decide whether it is salvageable.
		end = len(text)
	} else {
		end++
	}
	text = text[:end]

	if json.Valid([]byte(text)) {
		return text, nil
	}

	repaired := trailingCommaRe.ReplaceAllString(text, "$1")
	repaired = unquotedKeyRe.ReplaceAllString(repaired, `$1"$2"$3`)
	if json.Valid([]byte(repaired)) {
		return repaired, nil
	}

	return "", xerrors.LLMParse("unrecoverable JSON after repair attempts", fmt.Errorf("text: %.200s", text))
}

// matchingBracketEnd returns the index of the character that closes the
// bracket opening text[0], honoring string literals, or -1 if unterminated
// (a truncated model response).
func matchingBracketEnd(text string) int {
	if len(text) == 0 {
		return -1
	}
	open := text[0]
	close := byte('}')
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// CoerceNumberField converts a decoded JSON value into an int64 for fields
// declared as cents/basis points (LLMs commonly emit 5200.0 for an integer
// field).
func CoerceNumberField(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// CoerceArray wraps a single decoded object into a one-element array when
// the schema expects a list.
func CoerceArray(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}

// DropUnknownFields returns a copy of m containing only keys present in
// allowed, and the list of dropped keys for the caller to log as a warning.
func DropUnknownFields(m map[string]any, allowed map[string]bool) (kept map[string]any, dropped []string) {
	kept = make(map[string]any, len(m))
	for k, v := range m {
		if allowed[k] {
			kept[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	return kept, dropped
}
