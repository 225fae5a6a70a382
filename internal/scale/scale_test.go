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
package scale

import (
	"strings"
	"testing"

	"github.com/onsi/gomega"
)

// TestDetect_MixedScalesPerStatement covers a balance sheet in thousands and
// an income statement in millions within the same filing resolving to
// different units.
func TestDetect_MixedScalesPerStatement(t *testing.T) {
	g := gomega.NewWithT(t)

	text := "Consolidated Balance Sheets\nIn thousands of U.S. dollars\n" + strings.Repeat("x", 50) +
		"\n\nConsolidated Statements of Operations\nIn millions\n" + strings.Repeat("y", 50)

	results := Detect(text)
	g.Expect(results).To(gomega.HaveLen(2))
	g.Expect(results[0].Unit).To(gomega.Equal(Thousands))
	g.Expect(results[0].Defaulted).To(gomega.BeFalse())
	g.Expect(results[0].Statement).To(gomega.Equal(BalanceSheet))
	g.Expect(results[1].Unit).To(gomega.Equal(Millions))
	g.Expect(results[1].Statement).To(gomega.Equal(IncomeStatement))

	g.Expect(results[0].ToCents(3_800_000)).To(gomega.Equal(int64(380_000_000_000)))
	g.Expect(results[1].ToCents(5_200)).To(gomega.Equal(int64(520_000_000_000)))

	g.Expect(For(results, BalanceSheet).Unit).To(gomega.Equal(Thousands))
	g.Expect(For(results, IncomeStatement).Unit).To(gomega.Equal(Millions))
}

func TestFor_FallsBackAcrossStatementsThenDollars(t *testing.T) {
	g := gomega.NewWithT(t)

	results := []Result{{Unit: Millions, Statement: IncomeStatement}}
	g.Expect(For(results, BalanceSheet).Unit).To(gomega.Equal(Millions))

	g.Expect(For(nil, BalanceSheet).Unit).To(gomega.Equal(Dollars))
	g.Expect(For(nil, BalanceSheet).Defaulted).To(gomega.BeTrue())
}

func TestDetect_NoScalePhrase_DefaultsToDollarsWithWarning(t *testing.T) {
	g := gomega.NewWithT(t)

	text := "Consolidated Balance Sheets\n" + strings.Repeat("no scale phrase here ", 30)

	results := Detect(text)
	g.Expect(results).To(gomega.HaveLen(1))
	g.Expect(results[0].Unit).To(gomega.Equal(Dollars))
	g.Expect(results[0].Defaulted).To(gomega.BeTrue())
}

func TestDetect_NoHeaders_ReturnsSingleDefaultedResult(t *testing.T) {
	g := gomega.NewWithT(t)

	results := Detect("nothing financial about this text")
	g.Expect(results).To(gomega.HaveLen(1))
	g.Expect(results[0].Defaulted).To(gomega.BeTrue())
}
