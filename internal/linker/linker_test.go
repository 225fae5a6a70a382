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
package linker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onsi/gomega"

	"github.com/debtstack/debtstack/internal/graph"
)

func mkDoc(sectionType graph.SectionType, filingDate time.Time, id uuid.UUID, text string) Document {
	return Document{
		Section: graph.DocumentSection{ID: id, SectionType: sectionType, FilingDate: filingDate},
		Text:    text,
	}
}

func TestResolve_CUSIPDirectMatchWins(t *testing.T) {
	g := gomega.NewWithT(t)

	inst := graph.DebtInstrument{ID: uuid.New(), Name: "6.5% Senior Notes due 2030", CUSIP: "123456AB7"}
	docs := []Document{
		mkDoc(graph.SectionIndenture, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), uuid.New(), "CUSIP 123456AB7 is represented by this indenture."),
	}

	link, ok := Resolve(inst, docs)
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(link.MatchMethod).To(gomega.Equal(string(MethodCUSIPISIN)))
	g.Expect(link.Confidence).To(gomega.Equal(0.95))
}

func TestResolve_BaseIndentureFallback(t *testing.T) {
	g := gomega.NewWithT(t)

	inst := graph.DebtInstrument{ID: uuid.New(), Name: "Unrelated Name", SecurityType: "senior notes"}
	docs := []Document{
		mkDoc(graph.SectionIndenture, time.Date(1997, 5, 1, 0, 0, 0, 0, time.UTC), uuid.New(), "base indenture text with no specific identifiers"),
	}

	link, ok := Resolve(inst, docs)
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(link.MatchMethod).To(gomega.Equal(string(MethodBaseIndenture)))
	g.Expect(link.Confidence).To(gomega.Equal(0.60))
}

func TestResolve_CreditAgreementFallbackForTermLoan(t *testing.T) {
	g := gomega.NewWithT(t)

	inst := graph.DebtInstrument{ID: uuid.New(), Name: "Unrelated Name", SecurityType: "term loan b"}
	docs := []Document{
		mkDoc(graph.SectionCreditAgreement, time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC), uuid.New(), "credit agreement text"),
	}

	link, ok := Resolve(inst, docs)
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(link.MatchMethod).To(gomega.Equal(string(MethodCreditAgreement)))
}

func TestMostRecentGoverning_TieBreaksBySectionID(t *testing.T) {
	g := gomega.NewWithT(t)

	sameDay := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	lowID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	highID := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")

	docs := []Document{
		mkDoc(graph.SectionCreditAgreement, sameDay, lowID, "amendment one"),
		mkDoc(graph.SectionCreditAgreement, sameDay, highID, "amendment two"),
	}

	chosen, ok := MostRecentGoverning(docs)
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(chosen.Section.ID).To(gomega.Equal(highID))
}
