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

	"github.com/onsi/gomega"

	"github.com/debtstack/debtstack/internal/extract"
	"github.com/debtstack/debtstack/internal/scale"
)

func TestOptions_WantStep_EmptyStepsRunsEverything(t *testing.T) {
	g := gomega.NewWithT(t)

	o := Options{}
	g.Expect(o.wantStep(StepCore)).To(gomega.BeTrue())
	g.Expect(o.wantStep(StepMerge)).To(gomega.BeTrue())
}

func TestOptions_WantStep_RestrictsToSubset(t *testing.T) {
	g := gomega.NewWithT(t)

	o := Options{Steps: []string{StepCore, StepQA}}
	g.Expect(o.wantStep(StepCore)).To(gomega.BeTrue())
	g.Expect(o.wantStep(StepQA)).To(gomega.BeTrue())
	g.Expect(o.wantStep(StepMetrics)).To(gomega.BeFalse())
}

func TestOptions_WantSubset(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(Options{}.wantSubset()).To(gomega.BeFalse())
	g.Expect(Options{Steps: []string{StepCore}}.wantSubset()).To(gomega.BeTrue())
}

func TestAllSteps_CoversEveryStepConstantInOrder(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(AllSteps).To(gomega.Equal([]string{
		StepFetch, StepSegment, StepScale, StepCore, StepQA, StepFixplan,
		StepHierarchy, StepGuarantee, StepCollateral, StepCovenant,
		StepFinancial, StepMerge, StepMetrics, StepLink,
	}))
}

func TestRunSummary_SucceededAndFailedCount(t *testing.T) {
	g := gomega.NewWithT(t)

	summary := RunSummary{Results: []CompanyResult{
		{Ticker: "AAA", Status: "success"},
		{Ticker: "BBB", Status: "error"},
		{Ticker: "CCC", Status: "success"},
		{Ticker: "DDD", Status: "no_data"},
	}}

	g.Expect(summary.SucceededCount()).To(gomega.Equal(2))
	g.Expect(summary.FailedCount()).To(gomega.Equal(1))
}

func TestApplyScale_NilRawReturnsZero(t *testing.T) {
	g := gomega.NewWithT(t)
	g.Expect(applyScale(nil, nil)).To(gomega.Equal(int64(0)))
}

func TestApplyScale_NoScalesDefaultsToDollars(t *testing.T) {
	g := gomega.NewWithT(t)
	raw := int64(4_200)
	g.Expect(applyScale(&raw, nil)).To(gomega.Equal(int64(420_000)))
}

func TestApplyScale_UsesFirstDetectedScale(t *testing.T) {
	g := gomega.NewWithT(t)
	raw := int64(4_200)
	scales := []scale.Result{{Unit: scale.Thousands}, {Unit: scale.Millions}}
	g.Expect(applyScale(&raw, scales)).To(gomega.Equal(scales[0].ToCents(raw)))
}

func TestMergeEntityFills_FillsMatchingNameAndAppendsNew(t *testing.T) {
	g := gomega.NewWithT(t)

	entities := []extract.CandidateEntity{
		{Name: "Acme Finance LLC"},
		{Name: "Acme Holdings Inc"},
	}
	filled := []extract.CandidateEntity{
		{Name: "Acme Finance LLC", ParentName: "Acme Holdings Inc", OwnershipType: "direct"},
		{Name: "Acme International Ltd", ParentName: "Acme Holdings Inc", OwnershipType: "indirect"},
	}

	out := mergeEntityFills(entities, filled)
	g.Expect(out).To(gomega.HaveLen(3))
	g.Expect(out[0].ParentName).To(gomega.Equal("Acme Holdings Inc"))
	g.Expect(out[0].OwnershipType).To(gomega.Equal("direct"))
	g.Expect(out[1].ParentName).To(gomega.BeEmpty())
	g.Expect(out[2].Name).To(gomega.Equal("Acme International Ltd"))
}

func TestDedupeEntities_CollapsesByNormalizedName(t *testing.T) {
	g := gomega.NewWithT(t)

	entities := []extract.CandidateEntity{
		{Name: "Acme Finance, LLC"},
		{Name: "ACME FINANCE LLC"},
		{Name: "Acme Holdings Inc"},
	}

	out := dedupeEntities(entities)
	g.Expect(out).To(gomega.HaveLen(2))
	g.Expect(out[0].Name).To(gomega.Equal("Acme Finance, LLC"))
	g.Expect(out[1].Name).To(gomega.Equal("Acme Holdings Inc"))
}

func TestResolvedInstruments_NilCoreReturnsNil(t *testing.T) {
	g := gomega.NewWithT(t)

	run := &companyRun{}
	g.Expect(run.resolvedInstruments()).To(gomega.BeNil())
}
