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
// Package metrics derives per-company
// credit metrics from active debt instruments and the last four financial
// periods.
package metrics

import (
	"time"

	"github.com/debtstack/debtstack/internal/graph"
)

// sanityClipRatio bounds any computed ratio; anything larger almost always
// means a scale/unit mismatch upstream, so it's skipped and recorded as a
// warning rather than stored as a definitive metric.
const sanityClipRatio = 100

// excessDebtFlagRatio is the threshold past which a stable mismatch between
// summed instrument outstanding and reported total_debt is recorded as a
// flag rather than auto-reconciled; large, persistent gaps usually mean
// debt sits at an unconsolidated subsidiary the extractor never saw, not a
// data error worth silently correcting.
const excessDebtFlagRatio = 2.0

// Result is the full set of derived metrics for one company as of asOf.
type Result struct {
	Maturity0to12Cents   int64
	Maturity12to24Cents  int64
	Maturity24to36Cents  int64
	HasNearTermMaturity  bool
	WeightedAvgMaturityYears float64

	TTMEBITDACents int64
	TTMInterestExpenseCents int64

	LeverageRatio       *float64
	NetLeverageRatio    *float64
	InterestCoverage    *float64
	IsLeveraged         bool

	TotalDebtInstrumentsCents int64
	ReportedTotalDebtCents    int64
	ExcessDebtFlagged         bool

	Warnings []string

	ProvenanceFilingURLs []string
	ComputedAt           time.Time
}

// Compute derives metrics from active instruments and up to the last four
// financial periods (most recent first), as of asOf.
func Compute(instruments []graph.DebtInstrument, periods []graph.CompanyFinancials, asOf time.Time) Result {
	var r Result

	for _, inst := range instruments {
		if !inst.IsActive || inst.OutstandingCents == nil {
			continue
		}
		r.TotalDebtInstrumentsCents += *inst.OutstandingCents

		if inst.MaturityDate == nil {
			continue
		}
		months := monthsBetween(asOf, *inst.MaturityDate)
		switch {
		case months >= 0 && months < 12:
			r.Maturity0to12Cents += *inst.OutstandingCents
		case months >= 12 && months < 24:
			r.Maturity12to24Cents += *inst.OutstandingCents
		case months >= 24 && months < 36:
			r.Maturity24to36Cents += *inst.OutstandingCents
		}
	}
	r.HasNearTermMaturity = r.Maturity0to12Cents+r.Maturity12to24Cents > 0

	r.WeightedAvgMaturityYears = weightedAvgMaturity(instruments, asOf)

	ttmEBITDA, ttmInterest, warn := ttmFromPeriods(periods)
	r.TTMEBITDACents = ttmEBITDA
	r.TTMInterestExpenseCents = ttmInterest
	if warn != "" {
		r.Warnings = append(r.Warnings, warn)
	}

	if len(periods) > 0 {
		r.ReportedTotalDebtCents = periods[0].TotalDebtCents
		r.ProvenanceFilingURLs = filingURLs(periods)
	}

	r.LeverageRatio = clippedRatio(r.ReportedTotalDebtCents, r.TTMEBITDACents, &r.Warnings, "leverage_ratio")
	netNumerator := r.ReportedTotalDebtCents - sumCash(periods)
	r.NetLeverageRatio = clippedRatio(netNumerator, r.TTMEBITDACents, &r.Warnings, "net_leverage_ratio")
	r.InterestCoverage = clippedRatio(r.TTMEBITDACents, r.TTMInterestExpenseCents, &r.Warnings, "interest_coverage")

	if r.LeverageRatio != nil && *r.LeverageRatio > 4 {
		r.IsLeveraged = true
	}

	if r.ReportedTotalDebtCents > 0 && r.TotalDebtInstrumentsCents > 0 {
		ratio := float64(r.TotalDebtInstrumentsCents) / float64(r.ReportedTotalDebtCents)
		if ratio < 1 {
			ratio = 1 / ratio
		}
		if ratio > excessDebtFlagRatio {
			r.ExcessDebtFlagged = true
			r.Warnings = append(r.Warnings, "debt instrument total diverges from reported total_debt by more than 2x; recorded, not reconciled")
		}
	}

	r.ComputedAt = asOf
	return r
}

func clippedRatio(numerator, denominator int64, warnings *[]string, name string) *float64 {
	if denominator == 0 {
		return nil
	}
	ratio := float64(numerator) / float64(denominator)
	if ratio < 0 || ratio > sanityClipRatio {
		*warnings = append(*warnings, name+" exceeded sanity bound and was skipped")
		return nil
	}
	return &ratio
}

func monthsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	months := int(to.Month()) - int(from.Month())
	return years*12 + months
}

func weightedAvgMaturity(instruments []graph.DebtInstrument, asOf time.Time) float64 {
	var weightedSum, totalOutstanding float64
	for _, inst := range instruments {
		if !inst.IsActive || inst.MaturityDate == nil || inst.OutstandingCents == nil || *inst.OutstandingCents <= 0 {
			continue
		}
		years := float64(monthsBetween(asOf, *inst.MaturityDate)) / 12.0
		if years < 0 {
			years = 0
		}
		weightedSum += float64(*inst.OutstandingCents) * years
		totalOutstanding += float64(*inst.OutstandingCents)
	}
	if totalOutstanding == 0 {
		return 0
	}
	avg := weightedSum / totalOutstanding
	if avg > sanityClipRatio {
		avg = sanityClipRatio
	}
	return avg
}

// ttmFromPeriods sums EBITDA and interest expense across the last four
// periods if all four are present; otherwise annualizes from the latest
// quarter with a warning, since a partial-year sum would understate both.
func ttmFromPeriods(periods []graph.CompanyFinancials) (ebitda int64, interest int64, warning string) {
	if len(periods) == 0 {
		return 0, 0, "no financial periods available for TTM computation"
	}

	if len(periods) >= 4 {
		for _, p := range periods[:4] {
			ebitda += p.EBITDACents()
			interest += p.InterestExpenseCents
		}
		return ebitda, interest, ""
	}

	latest := periods[0]
	if latest.FiscalQuarter == 0 {
		// annual period already represents a full year
		return latest.EBITDACents(), latest.InterestExpenseCents, "fewer than four periods available; using the latest annual period as TTM"
	}
	return latest.EBITDACents() * 4, latest.InterestExpenseCents * 4, "fewer than four quarterly periods available; annualized from the latest quarter"
}

func sumCash(periods []graph.CompanyFinancials) int64 {
	if len(periods) == 0 {
		return 0
	}
	return periods[0].CashCents
}

func filingURLs(periods []graph.CompanyFinancials) []string {
	n := len(periods)
	if n > 4 {
		n = 4
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if periods[i].SourceFilingURL != "" {
			out = append(out, periods[i].SourceFilingURL)
		}
	}
	return out
}
