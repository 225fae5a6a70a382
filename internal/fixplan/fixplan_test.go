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
package fixplan

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/debtstack/debtstack/internal/qa"
)

func TestPlan_EntityVerificationWarnProducesEntityAdditions(t *testing.T) {
	g := gomega.NewWithT(t)

	report := qa.Report{Checks: []qa.CheckResult{
		{Name: "entity_verification", Status: qa.Warn, Findings: []qa.Finding{
			{Check: "entity_verification", Message: "missing subsidiary Acme Re Ltd"},
		}},
	}}

	directives := Plan(report)
	g.Expect(directives).To(gomega.HaveLen(1))
	g.Expect(directives[0].Kind).To(gomega.Equal(DirectiveEntityAddition))
	g.Expect(directives[0].Detail).To(gomega.ContainSubstring("Acme Re Ltd"))
}

func TestPlan_PassingChecksProduceNoDirectives(t *testing.T) {
	g := gomega.NewWithT(t)

	report := qa.Report{Checks: []qa.CheckResult{
		{Name: "entity_verification", Status: qa.Pass},
		{Name: "debt_verification", Status: qa.Skip},
	}}

	g.Expect(Plan(report)).To(gomega.BeEmpty())
}

func TestPlan_StructureFailProducesReparent(t *testing.T) {
	g := gomega.NewWithT(t)

	report := qa.Report{Checks: []qa.CheckResult{
		{Name: "structure", Status: qa.Fail, Findings: []qa.Finding{
			{Check: "structure", Message: "cycle detected in ownership hierarchy"},
		}},
	}}

	directives := Plan(report)
	g.Expect(directives).To(gomega.HaveLen(1))
	g.Expect(directives[0].Kind).To(gomega.Equal(DirectiveReparent))
}
