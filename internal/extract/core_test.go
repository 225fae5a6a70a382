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
	"testing"

	"github.com/onsi/gomega"
)

func TestValidateCore_OrphanParentReference(t *testing.T) {
	g := gomega.NewWithT(t)

	e := &CoreExtraction{
		Entities: []CandidateEntity{
			{Name: "Acme Holdings", IsRoot: true},
			{Name: "Acme OpCo", ParentName: "Ghost Parent"},
		},
	}

	warnings := validateCore(e)
	g.Expect(warnings).To(gomega.ContainElement(gomega.ContainSubstring("Ghost Parent")))
}

func TestValidateCore_AggregateOnlyDebtIsAccepted(t *testing.T) {
	g := gomega.NewWithT(t)

	raw := int64(913_000)
	e := &CoreExtraction{
		Entities: []CandidateEntity{{Name: "Driller Co", IsRoot: true}},
		DebtInstruments: []CandidateDebtInstrument{
			{IssuerName: "Driller Co", Name: "6.5% Senior Notes due 2030", AggregateOnly: true, PrincipalRaw: &raw},
		},
	}

	warnings := validateCore(e)
	g.Expect(warnings).To(gomega.BeEmpty())
}

func TestValidateCore_MissingOutstandingWithNoReasonWarns(t *testing.T) {
	g := gomega.NewWithT(t)

	e := &CoreExtraction{
		Entities: []CandidateEntity{{Name: "Acme Co", IsRoot: true}},
		DebtInstruments: []CandidateDebtInstrument{
			{IssuerName: "Acme Co", Name: "Term Loan B"},
		},
	}

	warnings := validateCore(e)
	g.Expect(warnings).To(gomega.ContainElement(gomega.ContainSubstring("Term Loan B")))
}

func TestPlausibleCents(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(PlausibleCents(0)).To(gomega.BeFalse())
	g.Expect(PlausibleCents(100)).To(gomega.BeTrue())
	g.Expect(PlausibleCents(500_000_000_000_00)).To(gomega.BeTrue())
	g.Expect(PlausibleCents(500_000_000_000_01)).To(gomega.BeFalse())
}

func TestNormalizeName(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(NormalizeName("Acme, Inc.")).To(gomega.Equal(NormalizeName("ACME INC")))
}
