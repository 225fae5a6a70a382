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

func TestParseExhibit21_IndentationHierarchy(t *testing.T) {
	g := gomega.NewWithT(t)

	text := "Acme Holdings Inc | Delaware\n" +
		"  Acme OpCo LLC | Nevada\n" +
		"    Acme Finance Sub, directly owned | Delaware\n"

	entities := ParseExhibit21(text)

	g.Expect(entities).To(gomega.HaveLen(3))
	g.Expect(entities[0].IsRoot).To(gomega.BeTrue())
	g.Expect(entities[1].ParentName).To(gomega.Equal("Acme Holdings Inc"))
	g.Expect(entities[2].ParentName).To(gomega.Equal("Acme OpCo LLC"))
	g.Expect(entities[2].OwnershipType).To(gomega.Equal("direct"))
}

func TestParseExhibit21_SkipsHeaderRow(t *testing.T) {
	g := gomega.NewWithT(t)

	text := "Subsidiaries of the Registrant\nName of Subsidiary | Jurisdiction\nAcme OpCo | Delaware\n"
	entities := ParseExhibit21(text)
	g.Expect(entities).To(gomega.HaveLen(1))
	g.Expect(entities[0].Name).To(gomega.Equal("Acme OpCo"))
}
