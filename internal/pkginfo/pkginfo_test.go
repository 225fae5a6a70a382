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
package pkginfo

import (
	"sort"
	"testing"

	"github.com/onsi/gomega"
)

func TestBuildVersionString_IncludesVersionAndOSArch(t *testing.T) {
	g := gomega.NewWithT(t)

	Version = "v0.1.0-test"
	CommitHash = "deadbeef"
	BuildDate = "2026-07-29"

	s := BuildVersionString()
	g.Expect(s).To(gomega.ContainSubstring("v0.1.0-test"))
	g.Expect(s).To(gomega.ContainSubstring("deadbeef"))
	g.Expect(s).To(gomega.ContainSubstring("2026-07-29"))
	g.Expect(s).To(gomega.ContainSubstring("debtstack"))
}

func TestGetDependencyList_ReturnsSortedEntries(t *testing.T) {
	g := gomega.NewWithT(t)

	deps := GetDependencyList()
	if len(deps) == 0 {
		t.Skip("no build info available under this test binary")
	}

	for _, d := range deps {
		g.Expect(d).To(gomega.ContainSubstring("="))
	}
	g.Expect(sort.StringsAreSorted(deps)).To(gomega.BeTrue())
}
