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
// Package fixplan implements the fix planner: consumes QA findings and
// produces scoped fix directives, re-invoking extraction for a bounded
// number of iterations before escalating to a higher LLM tier.
package fixplan

import (
	"context"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/extract"
	"github.com/debtstack/debtstack/internal/qa"
)

// DirectiveKind classifies a fix directive's shape.
type DirectiveKind string

const (
	DirectiveEntityAddition  DirectiveKind = "entity_addition"
	DirectiveAmountReAsk     DirectiveKind = "amount_reask"
	DirectiveReparent        DirectiveKind = "reparent"
)

// Directive is one scoped fix action derived from a QA finding.
type Directive struct {
	Kind   DirectiveKind
	Detail string
}

// Plan converts a QA report into fix directives: one per finding of each
// failing/warning entity_verification, debt_verification or structure
// check, scoped to the kind of correction that check calls for. Other
// checks yield no directives.
func Plan(report qa.Report) []Directive {
	var out []Directive
	for _, c := range report.Checks {
		if c.Status == qa.Pass || c.Status == qa.Skip {
			continue
		}
		switch c.Name {
		case "entity_verification":
			for _, f := range c.Findings {
				out = append(out, Directive{Kind: DirectiveEntityAddition, Detail: f.Message})
			}
		case "debt_verification":
			for _, f := range c.Findings {
				out = append(out, Directive{Kind: DirectiveAmountReAsk, Detail: f.Message})
			}
		case "structure":
			for _, f := range c.Findings {
				out = append(out, Directive{Kind: DirectiveReparent, Detail: f.Message})
			}
		}
	}
	return out
}

// Outcome is the final result of a bounded fix loop: the extraction the
// loop settled on, its QA report, how many iterations it took, and whether
// the escalated tier was the one that ultimately won.
type Outcome struct {
	FinalExtraction *extract.CoreExtraction
	FinalReport     qa.Report
	IterationCount  int
	Escalated       bool
}

// Runner drives the bounded iterate-then-escalate loop.
type Runner struct {
	Core *extract.CoreExtractor
	QA   *qa.Agent
}

func NewRunner(core *extract.CoreExtractor, agent *qa.Agent) *Runner {
	return &Runner{Core: core, QA: agent}
}

// ReAsk re-runs the core extractor with a scoped sub-prompt built from
// directives appended to the original bundle, so the re-extraction sees
// exactly what QA flagged rather than re-reading the filing cold.
func (r *Runner) ReAsk(ctx context.Context, bundle string, directives []Directive, tierIndex int) (*extract.CoreExtraction, error) {
	scoped := bundle + "\n\n=== FIX REQUEST ===\n" + renderDirectives(directives)
	return r.Core.Extract(ctx, scoped, tierIndex)
}

func renderDirectives(directives []Directive) string {
	out := ""
	for _, d := range directives {
		out += string(d.Kind) + ": " + d.Detail + "\n"
	}
	return out
}

// Run executes the bounded fix loop: at most config.FixPlanMaxIterations()
// attempts in all, the initial extraction counting as the first, each
// re-extraction at tier 0; if the score is still below threshold after the
// cap, one escalated re-extraction at the highest tier; if that still
// fails, the best attempt is accepted with a warning recorded on it. A
// re-ask is only kept if it scores at least as well as the attempt it
// replaces; a regression (e.g. the model drops a previously-found entity)
// ends the loop on the prior attempt instead of compounding the damage.
func (r *Runner) Run(ctx context.Context, bundle string, exhibit21Text, debtFootnoteText string, initial *extract.CoreExtraction, initialReport qa.Report) (Outcome, error) {
	current := initial
	report := initialReport
	iterations := 1

	maxIter := config.FixPlanMaxIterations()
	for report.Score < qa.PassThreshold && iterations < maxIter {
		directives := Plan(report)
		if len(directives) == 0 {
			break
		}

		reExtracted, err := r.ReAsk(ctx, bundle, directives, 0)
		if err != nil {
			return Outcome{}, err
		}

		nextReport, err := r.QA.Run(ctx, reExtracted, exhibit21Text, debtFootnoteText)
		if err != nil {
			return Outcome{}, err
		}

		if nextReport.Score < report.Score {
			break
		}

		current = reExtracted
		report = nextReport
		iterations++
	}

	if report.Score >= qa.PassThreshold {
		return Outcome{FinalExtraction: current, FinalReport: report, IterationCount: iterations}, nil
	}

	const belowThreshold = "qa score below pass threshold after the fix loop; best attempt accepted"
	if current != nil {
		current.Warnings = append(current.Warnings, belowThreshold)
	}

	escalated, err := r.Core.Extract(ctx, bundle, r.Core.Client.NumTiers()-1)
	if err != nil {
		return Outcome{FinalExtraction: current, FinalReport: report, IterationCount: iterations}, nil
	}
	escalatedReport, err := r.QA.Run(ctx, escalated, exhibit21Text, debtFootnoteText)
	if err != nil {
		return Outcome{FinalExtraction: current, FinalReport: report, IterationCount: iterations}, nil
	}

	if escalatedReport.Score > report.Score {
		if escalatedReport.Score < qa.PassThreshold {
			escalated.Warnings = append(escalated.Warnings, belowThreshold)
		}
		return Outcome{FinalExtraction: escalated, FinalReport: escalatedReport, IterationCount: iterations, Escalated: true}, nil
	}

	return Outcome{FinalExtraction: current, FinalReport: report, IterationCount: iterations}, nil
}
