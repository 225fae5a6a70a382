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
// Package qa implements the QA agent: five checks over a core
// extraction, each scored PASS/WARN/FAIL/SKIP, combined into a 0-100 score
// against an 85-point pass threshold.
package qa

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/debtstack/debtstack/internal/extract"
	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/xerrors"
)

type Status string

const (
	Pass Status = "PASS"
	Warn Status = "WARN"
	Fail Status = "FAIL"
	Skip Status = "SKIP"
)

var statusPoints = map[Status]int{
	Pass: 20,
	Warn: 10,
	Skip: 10,
	Fail: 0,
}

const PassThreshold = 85

// Finding is one structured observation from a check.
type Finding struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// CheckResult is one check's outcome.
type CheckResult struct {
	Name     string
	Status   Status
	Findings []Finding
}

// Report is the full five-check QA pass.
type Report struct {
	Checks []CheckResult
	Score  int
}

func (r Report) Passed() bool { return r.Score >= PassThreshold }

// Agent runs the five checks. Checks 2-5 call the LLM; check 1 is pure.
type Agent struct {
	Client *llm.Client
}

func NewAgent(c *llm.Client) *Agent {
	return &Agent{Client: c}
}

// Run executes all five checks in order and totals the score.
func (a *Agent) Run(ctx context.Context, extraction *extract.CoreExtraction, exhibit21Text, debtFootnoteText string) (Report, error) {
	var report Report

	c1 := checkInternalConsistency(extraction)
	report.Checks = append(report.Checks, c1)

	c2, err := a.checkEntityVerification(ctx, extraction, exhibit21Text)
	if err != nil {
		return report, err
	}
	report.Checks = append(report.Checks, c2)

	c3, err := a.checkDebtVerification(ctx, extraction, debtFootnoteText)
	if err != nil {
		return report, err
	}
	report.Checks = append(report.Checks, c3)

	c4, err := a.checkCompleteness(ctx, extraction, exhibit21Text+"\n"+debtFootnoteText)
	if err != nil {
		return report, err
	}
	report.Checks = append(report.Checks, c4)

	c5 := checkStructure(extraction)
	report.Checks = append(report.Checks, c5)

	total := 0
	for _, c := range report.Checks {
		total += statusPoints[c.Status]
	}
	report.Score = total

	return report, nil
}

// checkInternalConsistency (check 1, no LLM): every parent/issuer/guarantor
// reference must resolve to an extracted entity after case/punctuation
// normalization. Any orphan reference fails the whole check.
func checkInternalConsistency(e *extract.CoreExtraction) CheckResult {
	known := map[string]bool{}
	for _, ent := range e.Entities {
		known[normalize(ent.Name)] = true
	}

	var findings []Finding
	for _, ent := range e.Entities {
		if ent.ParentName != "" && !known[normalize(ent.ParentName)] {
			findings = append(findings, Finding{Check: "internal_consistency", Message: "orphan parent reference: " + ent.ParentName})
		}
	}
	for _, d := range e.DebtInstruments {
		if d.IssuerName != "" && !known[normalize(d.IssuerName)] {
			findings = append(findings, Finding{Check: "internal_consistency", Message: "orphan issuer reference: " + d.IssuerName})
		}
	}

	status := Pass
	if len(findings) > 0 {
		status = Fail
	}
	return CheckResult{Name: "internal_consistency", Status: status, Findings: findings}
}

// checkEntityVerification (check 2, LLM): compares the extracted entity set
// to Exhibit 21 coverage.
func (a *Agent) checkEntityVerification(ctx context.Context, e *extract.CoreExtraction, exhibit21Text string) (CheckResult, error) {
	if strings.TrimSpace(exhibit21Text) == "" {
		return CheckResult{Name: "entity_verification", Status: Skip}, nil
	}

	names := make([]string, 0, len(e.Entities))
	for _, ent := range e.Entities {
		names = append(names, ent.Name)
	}

	pct, findings, err := a.llmCoveragePct(ctx, entityVerificationPrompt, strings.Join(names, "\n"), exhibit21Text)
	if err != nil {
		return CheckResult{}, err
	}

	status := coverageStatus(pct)
	return CheckResult{Name: "entity_verification", Status: status, Findings: findings}, nil
}

// checkDebtVerification (check 3, LLM with a cheap pre-check): compares
// extracted instrument outstanding amounts to the debt footnote. An
// all-null amounts extraction short-circuits to WARN (aggregate-only
// disclosure) without an LLM call.
func (a *Agent) checkDebtVerification(ctx context.Context, e *extract.CoreExtraction, debtFootnoteText string) (CheckResult, error) {
	if len(e.DebtInstruments) == 0 {
		return CheckResult{Name: "debt_verification", Status: Skip}, nil
	}

	allNull := true
	for _, d := range e.DebtInstruments {
		if d.OutstandingRaw != nil {
			allNull = false
			break
		}
	}
	if allNull {
		return CheckResult{Name: "debt_verification", Status: Warn, Findings: []Finding{
			{Check: "debt_verification", Message: "all instruments lack an outstanding amount (aggregate-only disclosure)"},
		}}, nil
	}

	if strings.TrimSpace(debtFootnoteText) == "" {
		return CheckResult{Name: "debt_verification", Status: Skip}, nil
	}

	names := make([]string, 0, len(e.DebtInstruments))
	for _, d := range e.DebtInstruments {
		names = append(names, d.Name)
	}

	resp, err := a.Client.Generate(ctx, 0, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: debtVerificationPrompt},
			{Role: "user", Content: "Extracted instruments:\n" + strings.Join(names, "\n") + "\n\nDebt footnote:\n" + debtFootnoteText},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return CheckResult{}, err
	}

	verdict, err := decodeVerdict(resp.Text)
	if err != nil {
		return CheckResult{}, err
	}

	status := Warn
	switch {
	case verdict.MismatchSeverity == "wholesale":
		status = Fail
	case verdict.WithinTolerancePct >= 100:
		status = Pass
	}
	return CheckResult{Name: "debt_verification", Status: status, Findings: toFindings("debt_verification", verdict.Notes)}, nil
}

// checkCompleteness (check 4, LLM): whether material items appear missing
// from the extraction relative to the source.
func (a *Agent) checkCompleteness(ctx context.Context, e *extract.CoreExtraction, sourceText string) (CheckResult, error) {
	if strings.TrimSpace(sourceText) == "" {
		return CheckResult{Name: "completeness", Status: Skip}, nil
	}

	summary := summarizeExtraction(e)
	pct, findings, err := a.llmCoveragePct(ctx, completenessPrompt, summary, sourceText)
	if err != nil {
		return CheckResult{}, err
	}

	status := Fail
	if pct >= 80 {
		status = Pass
	} else if pct >= 50 {
		status = Warn
	}
	return CheckResult{Name: "completeness", Status: status, Findings: findings}, nil
}

// checkStructure (check 5, no LLM): fails when the hierarchy has no root,
// more than two roots, or a cycle. Two roots pass without any recorded
// justification, and tiering depth is not checked.
func checkStructure(e *extract.CoreExtraction) CheckResult {
	parent := map[string]string{}
	roots := 0
	for _, ent := range e.Entities {
		if ent.IsRoot || ent.ParentName == "" {
			roots++
			continue
		}
		parent[normalize(ent.Name)] = normalize(ent.ParentName)
	}

	var findings []Finding
	if roots == 0 {
		findings = append(findings, Finding{Check: "structure", Message: "no root entity found"})
	}
	if roots > 2 {
		findings = append(findings, Finding{Check: "structure", Message: "more than two unjustified roots"})
	}

	if hasCycle(parent) {
		findings = append(findings, Finding{Check: "structure", Message: "cycle detected in ownership hierarchy"})
	}

	status := Pass
	if len(findings) > 0 {
		status = Fail
	}
	return CheckResult{Name: "structure", Status: status, Findings: findings}
}

func hasCycle(parent map[string]string) bool {
	for start := range parent {
		seen := map[string]bool{}
		cur := start
		for {
			next, ok := parent[cur]
			if !ok {
				break
			}
			if seen[next] {
				return true
			}
			seen[cur] = true
			cur = next
			if len(seen) > len(parent)+1 {
				return true
			}
		}
	}
	return false
}

func normalize(s string) string {
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

func summarizeExtraction(e *extract.CoreExtraction) string {
	var b strings.Builder
	b.WriteString("Entities:\n")
	for _, ent := range e.Entities {
		b.WriteString("- " + ent.Name + "\n")
	}
	b.WriteString("Debt instruments:\n")
	for _, d := range e.DebtInstruments {
		b.WriteString("- " + d.Name + "\n")
	}
	return b.String()
}

func coverageStatus(pct float64) Status {
	switch {
	case pct >= 80:
		return Pass
	case pct >= 50:
		return Warn
	default:
		return Fail
	}
}

type coverageVerdict struct {
	CoveragePct float64  `json:"coverage_pct"`
	Notes       []string `json:"notes"`
}

func (a *Agent) llmCoveragePct(ctx context.Context, systemPrompt, extracted, source string) (float64, []Finding, error) {
	resp, err := a.Client.Generate(ctx, 0, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Extracted:\n" + extracted + "\n\nSource:\n" + source},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return 0, nil, err
	}

	clean, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		return 0, nil, err
	}

	var v coverageVerdict
	if err := json.Unmarshal([]byte(clean), &v); err != nil {
		return 0, nil, xerrors.LLMParse("coverage verdict json did not match expected shape", err)
	}

	return v.CoveragePct, toFindings("coverage", v.Notes), nil
}

type debtVerdict struct {
	WithinTolerancePct float64  `json:"within_tolerance_pct"`
	MismatchSeverity   string   `json:"mismatch_severity"` // "none" | "partial" | "wholesale"
	Notes              []string `json:"notes"`
}

func decodeVerdict(raw string) (debtVerdict, error) {
	clean, err := llm.ExtractJSON(raw)
	if err != nil {
		return debtVerdict{}, err
	}
	var v debtVerdict
	if err := json.Unmarshal([]byte(clean), &v); err != nil {
		return debtVerdict{}, xerrors.LLMParse("debt verdict json did not match expected shape", err)
	}
	return v, nil
}

func toFindings(check string, notes []string) []Finding {
	out := make([]Finding, 0, len(notes))
	for _, n := range notes {
		out = append(out, Finding{Check: check, Message: n})
	}
	return out
}

const entityVerificationPrompt = `Compare the extracted entity list to the Exhibit 21 source text. Estimate what percentage of
Exhibit 21's entities are covered by the extraction. Respond with a single JSON object:
{"coverage_pct": <0-100>, "notes": [...]}.`

const debtVerificationPrompt = `Compare extracted debt instrument names to the debt footnote source text. Estimate what
percentage of instruments have outstanding amounts within plausible agreement with the footnote, and
classify any mismatch severity as "none", "partial", or "wholesale" (e.g. an obvious scale error across
most instruments). Respond with a single JSON object:
{"within_tolerance_pct": <0-100>, "mismatch_severity": "...", "notes": [...]}.`

const completenessPrompt = `Compare the extraction summary to the source text. Estimate what percentage of material items
(entities, instruments, amounts) present in the source appear in the extraction. Respond with a single
JSON object: {"coverage_pct": <0-100>, "notes": [...]}.`
