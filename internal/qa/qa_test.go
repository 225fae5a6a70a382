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
package qa

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/debtstack/debtstack/internal/extract"
)

func TestCheckInternalConsistency_Pass(t *testing.T) {
	g := gomega.NewWithT(t)

	e := &extract.CoreExtraction{
		Entities: []extract.CandidateEntity{
			{Name: "Acme Holdings", IsRoot: true},
			{Name: "Acme OpCo", ParentName: "Acme Holdings"},
		},
	}

	result := checkInternalConsistency(e)
	g.Expect(result.Status).To(gomega.Equal(Pass))
}

func TestCheckInternalConsistency_OrphanFails(t *testing.T) {
	g := gomega.NewWithT(t)

	e := &extract.CoreExtraction{
		Entities: []extract.CandidateEntity{
			{Name: "Acme OpCo", ParentName: "Nonexistent Parent"},
		},
	}

	result := checkInternalConsistency(e)
	g.Expect(result.Status).To(gomega.Equal(Fail))
	g.Expect(result.Findings).NotTo(gomega.BeEmpty())
}

func TestCheckStructure_CycleFails(t *testing.T) {
	g := gomega.NewWithT(t)

	e := &extract.CoreExtraction{
		Entities: []extract.CandidateEntity{
			{Name: "A", ParentName: "B"},
			{Name: "B", ParentName: "A"},
		},
	}

	result := checkStructure(e)
	g.Expect(result.Status).To(gomega.Equal(Fail))
}

func TestCheckStructure_SingleRootPasses(t *testing.T) {
	g := gomega.NewWithT(t)

	e := &extract.CoreExtraction{
		Entities: []extract.CandidateEntity{
			{Name: "Root", IsRoot: true},
			{Name: "Child", ParentName: "Root"},
		},
	}

	result := checkStructure(e)
	g.Expect(result.Status).To(gomega.Equal(Pass))
}

func TestReport_Passed(t *testing.T) {
	g := gomega.NewWithT(t)

	r := Report{Checks: []CheckResult{
		{Status: Pass}, {Status: Pass}, {Status: Pass}, {Status: Warn}, {Status: Pass},
	}}
	total := 0
	for _, c := range r.Checks {
		total += statusPoints[c.Status]
	}
	r.Score = total

	g.Expect(r.Score).To(gomega.Equal(90))
	g.Expect(r.Passed()).To(gomega.BeTrue())
}
