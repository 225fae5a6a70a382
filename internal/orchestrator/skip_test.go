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
package orchestrator

import (
	"testing"
	"time"

	"github.com/onsi/gomega"

	"github.com/debtstack/debtstack/internal/graph"
)

func TestShouldSkipStep_CoreSkipsOnPopulatedGraph(t *testing.T) {
	g := gomega.NewWithT(t)

	ex := existingData{EntityCount: 25, DebtCount: 3}
	skip, reason := shouldSkipStep(StepCore, ex, Options{}, time.Now())
	g.Expect(skip).To(gomega.BeTrue())
	g.Expect(reason).NotTo(gomega.BeEmpty())

	skip, _ = shouldSkipStep(StepCore, existingData{EntityCount: 25}, Options{}, time.Now())
	g.Expect(skip).To(gomega.BeFalse())

	skip, _ = shouldSkipStep(StepCore, ex, Options{Force: true}, time.Now())
	g.Expect(skip).To(gomega.BeFalse())
}

func TestShouldSkipStep_FinancialsHonorRefreshWindow(t *testing.T) {
	g := gomega.NewWithT(t)

	latest := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	ex := existingData{LatestQuarter: &latest}

	// Next quarter end is 2025-09-30; refresh is due 60 days later.
	skip, _ := shouldSkipStep(StepFinancial, ex, Options{}, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	g.Expect(skip).To(gomega.BeTrue())

	skip, _ = shouldSkipStep(StepFinancial, ex, Options{}, time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC))
	g.Expect(skip).To(gomega.BeFalse())
}

func TestShouldSkipStep_SpecializedStepsSkipOnTerminalStatus(t *testing.T) {
	g := gomega.NewWithT(t)

	ex := existingData{StepStatus: map[string]graph.StepStatus{
		StepHierarchy: {Status: "no_data"},
		StepGuarantee: {Status: "success"},
		StepCollateral: {Status: "error"},
	}}

	skip, _ := shouldSkipStep(StepHierarchy, ex, Options{}, time.Now())
	g.Expect(skip).To(gomega.BeTrue())

	skip, _ = shouldSkipStep(StepGuarantee, ex, Options{}, time.Now())
	g.Expect(skip).To(gomega.BeTrue())

	skip, _ = shouldSkipStep(StepCollateral, ex, Options{}, time.Now())
	g.Expect(skip).To(gomega.BeFalse())

	skip, _ = shouldSkipStep(StepCovenant, ex, Options{}, time.Now())
	g.Expect(skip).To(gomega.BeFalse())
}

func TestShouldSkipStep_ResumeSkipsAnyTerminalStep(t *testing.T) {
	g := gomega.NewWithT(t)

	ex := existingData{StepStatus: map[string]graph.StepStatus{
		StepFetch: {Status: "success"},
	}}

	skip, _ := shouldSkipStep(StepFetch, ex, Options{}, time.Now())
	g.Expect(skip).To(gomega.BeFalse())

	skip, reason := shouldSkipStep(StepFetch, ex, Options{Resume: true}, time.Now())
	g.Expect(skip).To(gomega.BeTrue())
	g.Expect(reason).To(gomega.ContainSubstring("resume"))
}

func TestAllStepsTerminal(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(allStepsTerminal(nil)).To(gomega.BeFalse())

	status := map[string]graph.StepStatus{}
	for _, step := range AllSteps {
		status[step] = graph.StepStatus{Status: "success"}
	}
	g.Expect(allStepsTerminal(status)).To(gomega.BeTrue())

	status[StepMerge] = graph.StepStatus{Status: "error"}
	g.Expect(allStepsTerminal(status)).To(gomega.BeFalse())
}

func TestNextQuarterEnd(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(nextQuarterEnd(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC))).
		To(gomega.Equal(time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)))
	g.Expect(nextQuarterEnd(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))).
		To(gomega.Equal(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)))
	g.Expect(nextQuarterEnd(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))).
		To(gomega.Equal(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)))
}
