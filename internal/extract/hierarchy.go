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
package extract

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/xerrors"
)

// HierarchyExtractor runs the hierarchy pass: Exhibit 21 indentation
// parsing, falling back to an LLM pass limited to orphan high-value
// entities (guarantors/issuers).
type HierarchyExtractor struct {
	Client *llm.Client
}

func NewHierarchyExtractor(c *llm.Client) *HierarchyExtractor {
	return &HierarchyExtractor{Client: c}
}

// ParseExhibit21 parses a cleaned Exhibit 21 section into entities with
// parent/child edges inferred from indentation depth (text-indented lists)
// or from table-row structure (CleanHTML converts rows into " | "-joined
// lines). Direct/indirect is only set when the row text contains the
// explicit word; otherwise OwnershipType is left unknown rather than guessed.
func ParseExhibit21(text string) []CandidateEntity {
	lines := strings.Split(text, "\n")

	var out []CandidateEntity
	var stack []string // parent name at each indent depth seen so far

	for _, raw := range lines {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		depth := indentDepth(raw)
		fields := strings.Split(raw, "|")
		name := strings.TrimSpace(fields[0])
		if name == "" || looksLikeHeader(name) {
			continue
		}

		jurisdiction := ""
		if len(fields) > 1 {
			jurisdiction = strings.TrimSpace(fields[1])
		}

		for len(stack) > depth {
			stack = stack[:len(stack)-1]
		}

		ent := CandidateEntity{
			Name:         name,
			Jurisdiction: jurisdiction,
			Confidence:   1.0,
		}
		if depth > 0 && len(stack) > 0 {
			ent.ParentName = stack[len(stack)-1]
			lower := strings.ToLower(raw)
			switch {
			case strings.Contains(lower, "indirect"):
				ent.OwnershipType = "indirect"
				ent.EvidenceQuote = strings.TrimSpace(raw)
			case strings.Contains(lower, "direct"):
				ent.OwnershipType = "direct"
				ent.EvidenceQuote = strings.TrimSpace(raw)
			}
		} else {
			ent.IsRoot = true
		}

		out = append(out, ent)
		stack = append(stack, name)
	}

	return out
}

func indentDepth(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n / 2
		}
	}
	return 0
}

func looksLikeHeader(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "subsidiaries of") ||
		strings.Contains(lower, "jurisdiction of") ||
		strings.Contains(lower, "name of subsidiary")
}

const orphanPromptSystem = `You are given a list of entity names that appeared in a SEC filing's debt or guarantee
disclosures but were not placed in the corporate structure list (Exhibit 21). For each, state its
most likely parent entity from the provided roster, or leave parent_name empty if unknown.
Respond with a single JSON object: {"entities": [...]}.`

// FillOrphans runs an LLM pass limited to orphan entities; those referenced
// as guarantors/issuers but absent from the Exhibit 21 parse; against the
// known roster, rather than re-running full hierarchy extraction over the
// whole filing for a handful of missing names.
func (h *HierarchyExtractor) FillOrphans(ctx context.Context, orphanNames []string, roster []string) ([]CandidateEntity, error) {
	if len(orphanNames) == 0 {
		return nil, nil
	}

	prompt := "Orphan entities:\n" + strings.Join(orphanNames, "\n") +
		"\n\nKnown roster:\n" + strings.Join(roster, "\n")

	resp, err := h.Client.Generate(ctx, 0, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: orphanPromptSystem},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	clean, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Entities []CandidateEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(clean), &decoded); err != nil {
		return nil, xerrors.LLMParse("orphan fill json did not match expected shape", err)
	}

	return decoded.Entities, nil
}
