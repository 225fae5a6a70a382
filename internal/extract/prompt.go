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
	"sort"
	"strings"

	"github.com/debtstack/debtstack/internal/graph"
	"github.com/debtstack/debtstack/internal/segment"
)

// relevanceKeywords score sections for inclusion priority when the combined
// bundle would otherwise exceed the prompt budget; content is prioritized
// by keyword relevance before truncation, so the parts of a filing most
// likely to carry debt-structure detail survive a tight budget first.
var relevanceKeywords = []string{
	"guarantor", "guarantee", "subsidiary", "subsidiaries", "indenture",
	"senior notes", "term loan", "revolving credit", "collateral", "covenant",
	"outstanding", "maturity", "interest rate",
}

// AssembleBundle combines the sections most relevant to core extraction;
// Exhibit 21/22, debt footnote, MD&A liquidity, indenture/credit agreement
// excerpts; ranked by keyword relevance, truncated to the budget at the last
// sentence end or line break in the back half of the allowed length; where
// there is none, the cut falls at the budget itself, which can split a
// sentence or a table row.
func AssembleBundle(sections []segment.Section, budget int) string {
	wanted := map[graph.SectionType]bool{
		graph.SectionExhibit21:       true,
		graph.SectionExhibit22:       true,
		graph.SectionDebtFootnote:    true,
		graph.SectionMDALiquidity:    true,
		graph.SectionCreditAgreement: true,
		graph.SectionIndenture:       true,
	}

	type scored struct {
		sec   segment.Section
		score int
	}
	var ranked []scored
	for _, s := range sections {
		if !wanted[s.SectionType] {
			continue
		}
		ranked = append(ranked, scored{sec: s, score: relevanceScore(s.Content)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var b strings.Builder
	remaining := budget
	for _, r := range ranked {
		if remaining <= 0 {
			break
		}
		header := "\n\n=== " + string(r.sec.SectionType) + " ===\n"
		content := r.sec.Content
		avail := remaining - len(header)
		if avail <= 0 {
			break
		}
		if len(content) > avail {
			content = truncateAtBoundary(content, avail)
		}
		b.WriteString(header)
		b.WriteString(content)
		remaining -= len(header) + len(content)
	}

	return strings.TrimSpace(b.String())
}

func relevanceScore(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range relevanceKeywords {
		score += strings.Count(lower, kw)
	}
	return score
}

func truncateAtBoundary(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	window := text[:maxLen]
	if idx := strings.LastIndexAny(window, ".\n"); idx > maxLen/2 {
		return window[:idx+1]
	}
	return window
}

const corePromptSystem = `You are extracting corporate structure and debt data from SEC filing excerpts.
Report only figures exactly as printed in the source text. Do not convert units or apply any scale;
a downstream system applies the stated scale (thousands/millions) separately.
For every debt instrument, either report a numeric outstanding amount, or set outstanding_null_reason
to why none is stated, or set aggregate_only=true when only a company-level total is disclosed.
For every entity with a declared parent, set parent_name to the exact name used for that parent
elsewhere in your output so every reference resolves.
Respond with a single JSON object: {"entities": [...], "debt_instruments": [...]}.`
