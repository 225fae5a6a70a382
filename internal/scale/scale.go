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
// Package scale implements the scale detector: for a given filing
// region it determines whether raw figures are stated in dollars,
// thousands, or millions by scanning a short window after the nearest
// recognized financial-statement header.
package scale

import (
	"regexp"
	"sort"
)

// Unit is a detected reporting scale, expressed as a multiplier on the raw
// figure to reach whole dollars.
type Unit int

const (
	Dollars   Unit = 1
	Thousands Unit = 1_000
	Millions  Unit = 1_000_000
)

// Statement identifies which financial statement a detected scale applies
// to, since one filing can state its balance sheet in thousands and its
// income statement in millions.
type Statement string

const (
	BalanceSheet    Statement = "balance_sheet"
	IncomeStatement Statement = "income_statement"
	CashFlow        Statement = "cash_flow"
)

// Result carries the detected unit plus whether it was inferred rather than
// found explicitly, so callers can attach an "unscaled, defaulted" warning.
type Result struct {
	Unit      Unit
	Defaulted bool
	Statement Statement
}

// ToCents converts a raw reported figure into integer cents using the
// detected unit, e.g. 3,800,000 at Thousands -> 3_800_000_000_00.
func (r Result) ToCents(raw int64) int64 {
	return raw * int64(r.Unit) * 100
}

var statementHeaders = []struct {
	re   *regexp.Regexp
	stmt Statement
}{
	{regexp.MustCompile(`(?i)(consolidated )?balance sheets?`), BalanceSheet},
	{regexp.MustCompile(`(?i)(consolidated )?statements? of (income|operations)`), IncomeStatement},
	{regexp.MustCompile(`(?i)(consolidated )?statements? of cash flows?`), CashFlow},
}

var scalePhrases = []struct {
	re   *regexp.Regexp
	unit Unit
}{
	{regexp.MustCompile(`(?i)in thousands|\$000|\(000s?\)`), Thousands},
	{regexp.MustCompile(`(?i)in millions`), Millions},
}

// windowSize bounds how far past a header the detector looks for a scale
// phrase.
const windowSize = 500

// Detect scans text for statement headers and, for each, the nearest scale
// phrase within windowSize characters after it. It never trusts the first
// header's scale alone; each header's own window is evaluated
// independently, because a single filing can mix thousands and millions
// across statements.
func Detect(text string) []Result {
	type hit struct {
		pos  int
		stmt Statement
	}
	var hits []hit
	for _, h := range statementHeaders {
		for _, loc := range h.re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{pos: loc[1], stmt: h.stmt})
		}
	}
	if len(hits) == 0 {
		return []Result{{Unit: Dollars, Defaulted: true}}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := detectWindow(text, h.pos)
		r.Statement = h.stmt
		out = append(out, r)
	}
	return out
}

// For returns the scale in force for stmt: the first non-defaulted result
// detected for that statement, falling back to the first non-defaulted
// result of any statement, then to dollars.
func For(results []Result, stmt Statement) Result {
	for _, r := range results {
		if r.Statement == stmt && !r.Defaulted {
			return r
		}
	}
	for _, r := range results {
		if !r.Defaulted {
			return r
		}
	}
	if len(results) > 0 {
		return results[0]
	}
	return Result{Unit: Dollars, Defaulted: true}
}

// DetectNear is the single-region convenience form the backfill-amounts command uses: return the
// scale nearest a caller-supplied offset (e.g. the start of the financial
// statement block being extracted).
func DetectNear(text string, offset int) Result {
	if offset < 0 || offset > len(text) {
		offset = 0
	}
	return detectWindow(text, offset)
}

func detectWindow(text string, from int) Result {
	end := from + windowSize
	if end > len(text) {
		end = len(text)
	}
	window := text[from:end]

	best := Result{Unit: Dollars, Defaulted: true}
	bestPos := -1
	for _, sp := range scalePhrases {
		loc := sp.re.FindStringIndex(window)
		if loc == nil {
			continue
		}
		if bestPos == -1 || loc[0] < bestPos {
			bestPos = loc[0]
			best = Result{Unit: sp.unit, Defaulted: false}
		}
	}
	return best
}
