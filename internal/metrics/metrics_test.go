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
package metrics

import (
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/google/uuid"

	"github.com/debtstack/debtstack/internal/graph"
)

func cents(v int64) *int64 { return &v }

func TestCompute_MaturityBucketsAndLeverage(t *testing.T) {
	g := gomega.NewWithT(t)

	asOf := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
	maturity6mo := asOf.AddDate(0, 6, 0)
	maturity18mo := asOf.AddDate(1, 6, 0)

	instruments := []graph.DebtInstrument{
		{ID: uuid.New(), IsActive: true, MaturityDate: &maturity6mo, OutstandingCents: cents(100_000_00)},
		{ID: uuid.New(), IsActive: true, MaturityDate: &maturity18mo, OutstandingCents: cents(200_000_00)},
	}

	periods := []graph.CompanyFinancials{
		{OperatingIncomeCents: 50_000_00, DepreciationAmortizationCents: 10_000_00, InterestExpenseCents: 5_000_00, TotalDebtCents: 300_000_00, CashCents: 20_000_00},
		{OperatingIncomeCents: 48_000_00, DepreciationAmortizationCents: 10_000_00, InterestExpenseCents: 5_000_00},
		{OperatingIncomeCents: 45_000_00, DepreciationAmortizationCents: 9_000_00, InterestExpenseCents: 5_000_00},
		{OperatingIncomeCents: 47_000_00, DepreciationAmortizationCents: 9_000_00, InterestExpenseCents: 5_000_00},
	}

	r := Compute(instruments, periods, asOf)

	g.Expect(r.Maturity0to12Cents).To(gomega.Equal(int64(100_000_00)))
	g.Expect(r.Maturity12to24Cents).To(gomega.Equal(int64(200_000_00)))
	g.Expect(r.HasNearTermMaturity).To(gomega.BeTrue())
	g.Expect(r.LeverageRatio).NotTo(gomega.BeNil())
	g.Expect(r.NetLeverageRatio).NotTo(gomega.BeNil())
}

func TestCompute_MaturedInstrumentExcludedWhenInactive(t *testing.T) {
	g := gomega.NewWithT(t)

	asOf := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
	matured := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	instruments := []graph.DebtInstrument{
		{ID: uuid.New(), IsActive: false, MaturityDate: &matured, OutstandingCents: cents(500_000_00)},
	}

	r := Compute(instruments, nil, asOf)
	g.Expect(r.TotalDebtInstrumentsCents).To(gomega.Equal(int64(0)))
	g.Expect(r.Maturity0to12Cents).To(gomega.Equal(int64(0)))
}

func TestCompute_SanityClippingSkipsExtremeRatio(t *testing.T) {
	g := gomega.NewWithT(t)

	periods := []graph.CompanyFinancials{
		{OperatingIncomeCents: 1, DepreciationAmortizationCents: 0, InterestExpenseCents: 1, TotalDebtCents: 1_000_000_00},
	}

	r := Compute(nil, periods, time.Now().UTC())
	g.Expect(r.LeverageRatio).To(gomega.BeNil())
	g.Expect(r.Warnings).To(gomega.ContainElement(gomega.ContainSubstring("leverage_ratio")))
}

func TestCompute_ExcessDebtFlagged(t *testing.T) {
	g := gomega.NewWithT(t)

	instruments := []graph.DebtInstrument{
		{ID: uuid.New(), IsActive: true, OutstandingCents: cents(900_000_000_00)},
	}
	periods := []graph.CompanyFinancials{
		{TotalDebtCents: 400_000_000_00, OperatingIncomeCents: 10_000_00, DepreciationAmortizationCents: 1_000_00},
	}

	r := Compute(instruments, periods, time.Now().UTC())
	g.Expect(r.ExcessDebtFlagged).To(gomega.BeTrue())
}
