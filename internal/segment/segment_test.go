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
package segment

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/debtstack/debtstack/internal/graph"
)

func TestSegment_DebtFootnote(t *testing.T) {
	g := gomega.NewWithT(t)

	text := "Some preamble.\n\nNote 7 - Long-Term Debt\n" + repeat("The Company had $500 million outstanding. ", 20)

	sections := Segment(text)

	var found *Section
	for i := range sections {
		if sections[i].SectionType == graph.SectionDebtFootnote {
			found = &sections[i]
		}
	}
	g.Expect(found).NotTo(gomega.BeNil())
	g.Expect(found.Content).To(gomega.ContainSubstring("outstanding"))
}

func TestSegment_Exhibit21_RejectsAuditorConsent(t *testing.T) {
	g := gomega.NewWithT(t)

	text := "Subsidiaries of the Registrant\n\nConsent of Independent Registered Public Accounting Firm. " +
		repeat("x", 50)

	sections := Segment(text)
	for _, s := range sections {
		g.Expect(s.SectionType).NotTo(gomega.Equal(graph.SectionExhibit21))
	}
}

func TestSegment_Exhibit21_AcceptsJurisdictionList(t *testing.T) {
	g := gomega.NewWithT(t)

	text := "Subsidiaries of the Registrant\n\n" +
		"Acme Finance LLC | Delaware\nAcme Holdings B.V. | Netherlands\nAcme Re Ltd | Bermuda\n" +
		repeat("padding ", 10)

	sections := Segment(text)

	found := false
	for _, s := range sections {
		if s.SectionType == graph.SectionExhibit21 {
			found = true
		}
	}
	g.Expect(found).To(gomega.BeTrue())
}

func TestSegment_NoMatch_ReturnsEmpty(t *testing.T) {
	g := gomega.NewWithT(t)

	sections := Segment("Nothing relevant here at all.")
	g.Expect(sections).To(gomega.BeEmpty())
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
