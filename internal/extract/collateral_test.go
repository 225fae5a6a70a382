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

	"github.com/debtstack/debtstack/internal/graph"
)

func TestResolveTypes_AircraftOverridesGeneralLien(t *testing.T) {
	g := gomega.NewWithT(t)

	resolved := ResolveTypes([]string{string(graph.CollateralGeneralLien)}, "substantially all aircraft and engines", "")
	g.Expect(resolved).To(gomega.Equal([]string{string(graph.CollateralVehicles)}))
}

func TestResolveTypes_LeavesSpecificTypeAlone(t *testing.T) {
	g := gomega.NewWithT(t)

	resolved := ResolveTypes([]string{string(graph.CollateralReceivables)}, "accounts receivable", "")
	g.Expect(resolved).To(gomega.Equal([]string{string(graph.CollateralReceivables)}))
}

func TestResolveTypes_NoSignalKeepsGeneralLien(t *testing.T) {
	g := gomega.NewWithT(t)

	resolved := ResolveTypes([]string{string(graph.CollateralGeneralLien)}, "all assets of the company", "")
	g.Expect(resolved).To(gomega.Equal([]string{string(graph.CollateralGeneralLien)}))
}
