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
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/debtstack/debtstack/internal/graph"
	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/scale"
	"github.com/debtstack/debtstack/internal/xerrors"
)

const financialPromptSystem = `You are extracting one fiscal period's financial-statement figures from a SEC filing excerpt.
Report figures exactly as printed, with no unit conversion. Include fiscal_year, fiscal_quarter (0 for
annual periods), and period_end_date (YYYY-MM-DD). Do not compute or report EBITDA; report
operating_income and depreciation_amortization separately so it can be derived.
Respond with a single JSON object describing exactly one period.`

// FinancialExtractor produces one CompanyFinancials row per filing, with
// the detected scale applied and EBITDA always derived, never extracted.
type FinancialExtractor struct {
	Client *llm.Client
}

func NewFinancialExtractor(c *llm.Client) *FinancialExtractor {
	return &FinancialExtractor{Client: c}
}

// ExtractPeriod extracts one period row from statementText. scales is the
// full per-region detection result for the filing: income-statement figures
// get the scale detected after the income-statement header, balance-sheet
// figures the one after the balance-sheet header, since a filing can state
// the two in different units.
func (e *FinancialExtractor) ExtractPeriod(ctx context.Context, companyID string, statementText string, scales []scale.Result, sourceURL string, filingDate time.Time) (*graph.CompanyFinancials, error) {
	resp, err := e.Client.Generate(ctx, 0, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: financialPromptSystem},
			{Role: "user", Content: "Financial statement excerpt:\n" + statementText},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	clean, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		return nil, err
	}

	var p CandidatePeriod
	if err := json.Unmarshal([]byte(clean), &p); err != nil {
		return nil, xerrors.LLMParse("financial period json did not match expected shape", err)
	}

	periodEnd, _ := time.Parse("2006-01-02", p.PeriodEndDate)

	incomeScale := scale.For(scales, scale.IncomeStatement)
	balanceScale := scale.For(scales, scale.BalanceSheet)

	f := &graph.CompanyFinancials{
		FiscalYear:                   p.FiscalYear,
		FiscalQuarter:                p.FiscalQuarter,
		PeriodEndDate:                periodEnd,
		RevenueCents:                 rawToCents(p.RevenueRaw, incomeScale),
		OperatingIncomeCents:         rawToCents(p.OperatingIncomeRaw, incomeScale),
		DepreciationAmortizationCents: rawToCents(p.DepreciationAmortizationRaw, incomeScale),
		InterestExpenseCents:         rawToCents(p.InterestExpenseRaw, incomeScale),
		IncomeTaxExpenseCents:        rawToCents(p.IncomeTaxExpenseRaw, incomeScale),
		TotalDebtCents:               rawToCents(p.TotalDebtRaw, balanceScale),
		CashCents:                    rawToCents(p.CashRaw, balanceScale),
		TotalAssetsCents:             rawToCents(p.TotalAssetsRaw, balanceScale),
		SourceFilingURL:              sourceURL,
	}

	return f, nil
}

func rawToCents(raw *int64, sc scale.Result) int64 {
	if raw == nil {
		return 0
	}
	return sc.ToCents(*raw)
}
