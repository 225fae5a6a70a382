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
// Package segment implements the section segmenter: it splits a
// cleaned filing into typed sections using ordered pattern families per
// section_type, the first matching pattern of sufficient length winning.
package segment

import (
	"regexp"
	"strings"

	"github.com/debtstack/debtstack/internal/graph"
)

// Section is one segmented region prior to persistence.
type Section struct {
	SectionType graph.SectionType
	Title       string
	Content     string
}

type pattern struct {
	sectionType graph.SectionType
	header      *regexp.Regexp
	minLength   int
}

// redFlagPhrases reject an exhibit_21-shaped block that is actually an
// auditor consent or certification page.
var redFlagPhrases = []string{"consent of", "power of attorney", "certification of", "pursuant to"}

var jurisdictionTokens = []string{
	"delaware", "nevada", "new york", "california", "texas", "cayman islands",
	"luxembourg", "ireland", "netherlands", "bermuda",
}

var patterns = []pattern{
	{graph.SectionExhibit21, regexp.MustCompile(`(?i)subsidiaries of the registrant`), 30},
	{graph.SectionExhibit22, regexp.MustCompile(`(?i)list of (subsidiary )?guarantors`), 30},
	{graph.SectionDebtFootnote, regexp.MustCompile(`(?im)^\s*(note\s+\d+\s*[-—]\s*long[- ]term debt|\d+\.\s*long[- ]term (debt|obligations))`), 200},
	{graph.SectionMDALiquidity, regexp.MustCompile(`(?i)liquidity and capital resources`), 200},
	{graph.SectionCreditAgreement, regexp.MustCompile(`(?i)credit agreement`), 500},
	{graph.SectionIndenture, regexp.MustCompile(`(?i)indenture`), 500},
	{graph.SectionGuarantorList, regexp.MustCompile(`(?i)guarantor subsidiaries`), 50},
	{graph.SectionCovenants, regexp.MustCompile(`(?i)covenants`), 100},
	{graph.SectionDescSecurities, regexp.MustCompile(`(?i)description of (the )?securities`), 200},
}

// Segment splits cleaned text into typed sections. Returns an empty slice
// (not an error) when nothing matches; the no_data disposition is the
// caller's to record.
func Segment(cleanedText string) []Section {
	var out []Section

	for _, p := range patterns {
		loc := p.header.FindStringIndex(cleanedText)
		if loc == nil {
			continue
		}
		body := cleanedText[loc[0]:]
		if len(body) < p.minLength {
			continue
		}

		if p.sectionType == graph.SectionExhibit21 && !validExhibit21(body) {
			continue
		}

		out = append(out, Section{
			SectionType: p.sectionType,
			Title:       strings.TrimSpace(cleanedText[loc[0]:loc[1]]),
			Content:     truncateAtBoundary(body, targetLength(p.sectionType)),
		})
	}

	return out
}

// validExhibit21 rejects auditor-consent/certification pages and accepts
// text carrying multiple jurisdiction tokens or a subsidiaries header.
func validExhibit21(text string) bool {
	head := strings.ToLower(text[:min(len(text), 400)])
	for _, red := range redFlagPhrases {
		if strings.Contains(head, red) {
			return false
		}
	}

	if strings.Contains(head, "subsidiaries of") || strings.Contains(head, "jurisdiction of incorporation") {
		return true
	}

	hits := 0
	lower := strings.ToLower(text)
	for _, j := range jurisdictionTokens {
		if strings.Contains(lower, j) {
			hits++
		}
	}
	return hits >= 2
}

func targetLength(t graph.SectionType) int {
	switch t {
	case graph.SectionIndenture, graph.SectionCreditAgreement:
		return 100_000
	default:
		return 20_000
	}
}

// truncateAtBoundary cuts at the nearest sentence or table-row boundary at
// or before maxLen when one lies past maxLen/2; otherwise it cuts at maxLen
// itself, which can split a sentence or a token.
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

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
