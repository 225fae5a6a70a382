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
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/xerrors"
)

// plausibilityFloorCents / plausibilityCeilingCents bound a single debt
// instrument's outstanding amount in cents to $1-$500 billion; anything
// outside is almost certainly a scale miss.
const (
	plausibilityFloorCents   = 1_00
	plausibilityCeilingCents = 500_000_000_000_00
)

// CoreExtractor produces candidate entities and debt instruments from a
// prompt bundle, validated against validateCore's rules.
type CoreExtractor struct {
	Client *llm.Client
}

func NewCoreExtractor(c *llm.Client) *CoreExtractor {
	return &CoreExtractor{Client: c}
}

// Extract runs one tier of core extraction over bundle, which should be the
// output of AssembleBundle. tierIndex lets the fix planner pin an
// escalated tier for a full re-extraction.
func (e *CoreExtractor) Extract(ctx context.Context, bundle string, tierIndex int) (*CoreExtraction, error) {
	resp, err := e.Client.Generate(ctx, tierIndex, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: corePromptSystem},
			{Role: "user", Content: "Filing excerpts:\n" + bundle},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	extraction, err := parseCoreExtraction(resp.Text)
	if err != nil {
		return nil, err
	}

	if warnings := validateCore(extraction); len(warnings) > 0 {
		extraction.Warnings = warnings
	}

	return extraction, nil
}

func parseCoreExtraction(raw string) (*CoreExtraction, error) {
	clean, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	// structural coercion: a model that emits a single object instead of an
	// array for a filing with exactly one instrument/entity has that object
	// wrapped into a one-element array before decoding.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &fields); err == nil {
		for _, key := range []string{"entities", "debt_instruments"} {
			if v := fields[key]; len(v) > 0 && v[0] == '{' {
				fields[key] = append(append(json.RawMessage("["), v...), ']')
			}
		}
		if rewrapped, err := json.Marshal(fields); err == nil {
			clean = string(rewrapped)
		}
	}

	var decoded struct {
		Entities        []CandidateEntity         `json:"entities"`
		DebtInstruments []CandidateDebtInstrument  `json:"debt_instruments"`
	}
	if err := json.Unmarshal([]byte(clean), &decoded); err != nil {
		return nil, xerrors.LLMParse("core extraction json did not match expected shape", err)
	}

	return &CoreExtraction{
		Entities:        decoded.Entities,
		DebtInstruments: decoded.DebtInstruments,
	}, nil
}

// validateCore checks referential consistency (entity parents and
// instrument issuers must resolve to an extracted entity, outstanding
// amounts must be present or explicitly excused) and returns human-readable
// warnings for anything that fails; it does not reject the extraction
// outright; the QA agent is the gate that does that.
func validateCore(e *CoreExtraction) []string {
	var warnings []string

	known := map[string]bool{}
	for _, ent := range e.Entities {
		known[NormalizeName(ent.Name)] = true
	}

	for _, ent := range e.Entities {
		if ent.ParentName != "" && !known[NormalizeName(ent.ParentName)] {
			warnings = append(warnings, fmt.Sprintf("entity %q declares parent %q which was not extracted", ent.Name, ent.ParentName))
		}
	}

	companyAggregateOnly := false
	for _, d := range e.DebtInstruments {
		if d.IssuerName != "" && !known[NormalizeName(d.IssuerName)] {
			warnings = append(warnings, fmt.Sprintf("instrument %q references issuer %q which was not extracted", d.Name, d.IssuerName))
		}
		if d.AggregateOnly {
			companyAggregateOnly = true
		}
		if d.OutstandingRaw == nil && d.OutstandingNullReason == "" && !d.AggregateOnly {
			warnings = append(warnings, fmt.Sprintf("instrument %q has no outstanding value, no null reason, and is not marked aggregate-only", d.Name))
		}
	}
	_ = companyAggregateOnly

	return warnings
}

// NormalizeName case/punctuation-normalizes an entity name for reference
// resolution, matching QA's internal-consistency check's comparison rule.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// PlausibleCents reports whether a converted cents value falls within the
// plausibility band core extraction is expected to honor.
func PlausibleCents(cents int64) bool {
	return cents >= plausibilityFloorCents && cents <= plausibilityCeilingCents
}
