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
// Package linker links every debt instrument to its governing document,
// trying an ordered table of confidence-ranked match methods until one
// resolves.
package linker

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/debtstack/debtstack/internal/graph"
)

// MatchMethod names a linking strategy, used verbatim as the stored
// match_method value.
type MatchMethod string

const (
	MethodCUSIPISIN          MatchMethod = "cusip_isin_direct"
	MethodSmartName          MatchMethod = "smart_name_match"
	MethodRateMaturity       MatchMethod = "rate_maturity_match"
	MethodBaseIndenture      MatchMethod = "base_indenture_fallback"
	MethodSupplementalFallback MatchMethod = "supplemental_fallback"
	MethodCreditAgreement    MatchMethod = "credit_agreement_fallback"
)

var methodConfidence = map[MatchMethod]float64{
	MethodCUSIPISIN:            0.95,
	MethodSmartName:             0.85,
	MethodRateMaturity:          0.80,
	MethodBaseIndenture:         0.60,
	MethodSupplementalFallback:  0.55,
	MethodCreditAgreement:       0.60,
}

// Document bundles a document_section row with the full text used for
// name/rate/maturity matching (content may be truncated in storage; callers
// should pass the untruncated text when available).
type Document struct {
	Section graph.DocumentSection
	Text    string
}

// Link is the resolved instrument -> document edge before persistence.
type Link struct {
	DebtInstrumentID  uuid.UUID
	DocumentSectionID uuid.UUID
	RelationshipType  graph.RelationshipType
	Confidence        float64
	MatchMethod       string
}

// Resolve finds the best matching document for inst among docs, trying
// methods in the table's priority order and returning the first hit.
// "No document expected" (commercial paper, trade payables, generic bucket
// items) is the caller's responsibility to short-circuit before calling
// Resolve.
func Resolve(inst graph.DebtInstrument, docs []Document) (Link, bool) {
	if inst.CUSIP != "" || inst.ISIN != "" {
		for _, d := range docs {
			if containsIdentifier(d.Text, inst.CUSIP) || containsIdentifier(d.Text, inst.ISIN) {
				return link(inst, d, MethodCUSIPISIN), true
			}
		}
	}

	if inst.Name != "" {
		for _, d := range docs {
			if strings.Contains(d.Text, inst.Name) {
				return link(inst, d, MethodSmartName), true
			}
		}
	}

	if inst.MaturityDate != nil && inst.InterestRateBps > 0 {
		year := strconv.Itoa(inst.MaturityDate.Year())
		ratePct := strconv.FormatFloat(float64(inst.InterestRateBps)/100.0, 'f', -1, 64)
		for _, d := range docs {
			if strings.Contains(d.Text, year) && (strings.Contains(d.Text, ratePct+"%") || strings.Contains(d.Text, ratePct+" percent")) {
				return link(inst, d, MethodRateMaturity), true
			}
		}
	}

	if isBondLike(inst) {
		if base, ok := oldestIndenture(docs); ok {
			return link(inst, base, MethodBaseIndenture), true
		}
		if supp, ok := mostRecentSupplemental(docs); ok {
			return link(inst, supp, MethodSupplementalFallback), true
		}
	} else {
		if ca, ok := mostRecentCreditAgreement(docs); ok {
			return link(inst, ca, MethodCreditAgreement), true
		}
	}

	return Link{}, false
}

func link(inst graph.DebtInstrument, d Document, method MatchMethod) Link {
	return Link{
		DebtInstrumentID:  inst.ID,
		DocumentSectionID: d.Section.ID,
		RelationshipType:  graph.RelationGoverns,
		Confidence:        methodConfidence[method],
		MatchMethod:       string(method),
	}
}

func containsIdentifier(text, id string) bool {
	return id != "" && strings.Contains(text, id)
}

func isBondLike(inst graph.DebtInstrument) bool {
	lower := strings.ToLower(inst.SecurityType)
	return strings.Contains(lower, "note") || strings.Contains(lower, "bond")
}

func oldestIndenture(docs []Document) (Document, bool) {
	return extremeOfType(docs, graph.SectionIndenture, true)
}

func mostRecentSupplemental(docs []Document) (Document, bool) {
	var supplementals []Document
	for _, d := range docs {
		if d.Section.SectionType == graph.SectionIndenture && strings.Contains(strings.ToLower(d.Text), "supplemental") {
			supplementals = append(supplementals, d)
		}
	}
	if len(supplementals) == 0 {
		return Document{}, false
	}
	sort.Slice(supplementals, func(i, j int) bool {
		return supplementals[i].Section.FilingDate.After(supplementals[j].Section.FilingDate)
	})
	return supplementals[0], true
}

func mostRecentCreditAgreement(docs []Document) (Document, bool) {
	return extremeOfType(docs, graph.SectionCreditAgreement, false)
}

// extremeOfType returns the oldest (oldest=true) or most recent document of
// sectionType, tie-breaking ties (including amendments filed the same day)
// by the document section's id for a deterministic result across re-runs.
func extremeOfType(docs []Document, sectionType graph.SectionType, oldest bool) (Document, bool) {
	var matches []Document
	for _, d := range docs {
		if d.Section.SectionType == sectionType {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return Document{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Section.FilingDate.Equal(matches[j].Section.FilingDate) {
			if oldest {
				return matches[i].Section.FilingDate.Before(matches[j].Section.FilingDate)
			}
			return matches[i].Section.FilingDate.After(matches[j].Section.FilingDate)
		}
		return matches[i].Section.ID.String() > matches[j].Section.ID.String()
	})
	return matches[0], true
}

// MostRecentGoverning picks the document to use for covenant extraction:
// always the most recent document with relationship_type = "governs" for
// the instrument (the latest amendment supersedes the base indenture),
// tie-broken by document id for a deterministic result across re-runs.
func MostRecentGoverning(governing []Document) (Document, bool) {
	if len(governing) == 0 {
		return Document{}, false
	}
	sort.Slice(governing, func(i, j int) bool {
		if !governing[i].Section.FilingDate.Equal(governing[j].Section.FilingDate) {
			return governing[i].Section.FilingDate.After(governing[j].Section.FilingDate)
		}
		return governing[i].Section.ID.String() > governing[j].Section.ID.String()
	})
	return governing[0], true
}
