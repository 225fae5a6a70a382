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
// Package extract implements the core, financial, and specialized
// extractors (hierarchy, guarantee, collateral, covenant). LLM output lands
// in the typed candidate structs defined here first; nothing downstream
// touches raw map[string]any.
package extract

// CandidateEntity is one legal entity as the model described it, before
// slug assignment and entity-ID resolution happen in the merger.
type CandidateEntity struct {
	Name          string   `json:"name"`
	Jurisdiction  string   `json:"jurisdiction,omitempty"`
	EntityType    string   `json:"entity_type,omitempty"`
	IsGuarantor   bool     `json:"is_guarantor,omitempty"`
	ParentName    string   `json:"parent_name,omitempty"`
	OwnershipType string   `json:"ownership_type,omitempty"` // "direct" | "indirect" | ""
	EvidenceQuote string   `json:"evidence_quote,omitempty"`
	IsRoot        bool     `json:"is_root,omitempty"`
	Confidence    float64  `json:"confidence,omitempty"`
}

// CandidateDebtInstrument is one debt instrument as the model described it.
// OutstandingRaw is the figure exactly as printed; scale is applied by the
// caller using the detected scale for the region the instrument was found
// in. Prompts require raw numeric amounts, with no unit conversion by the
// model.
type CandidateDebtInstrument struct {
	IssuerName       string   `json:"issuer_name"`
	Name             string   `json:"name"`
	Seniority        string   `json:"seniority,omitempty"`
	SecurityType     string   `json:"security_type,omitempty"`
	InterestRatePct  *float64 `json:"interest_rate_pct,omitempty"`
	IsFloating       bool     `json:"is_floating,omitempty"`
	Benchmark        string   `json:"benchmark,omitempty"`
	SpreadBps        *int64   `json:"spread_bps,omitempty"`
	IssueDate        string   `json:"issue_date,omitempty"`
	MaturityDate     string   `json:"maturity_date,omitempty"`
	PrincipalRaw     *int64   `json:"principal_raw,omitempty"`
	OutstandingRaw   *int64   `json:"outstanding_raw,omitempty"`
	OutstandingNullReason string `json:"outstanding_null_reason,omitempty"`
	AggregateOnly    bool     `json:"aggregate_only,omitempty"`
	CUSIP            string   `json:"cusip,omitempty"`
	ISIN             string   `json:"isin,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
}

// CoreExtraction is the core extractor's typed output.
type CoreExtraction struct {
	Entities        []CandidateEntity         `json:"entities"`
	DebtInstruments []CandidateDebtInstrument  `json:"debt_instruments"`
	Warnings        []string                  `json:"-"`
}

// CandidatePeriod is one fiscal period row as extracted, raw figures only;
// scale and EBITDA derivation happen after extraction.
type CandidatePeriod struct {
	FiscalYear               int    `json:"fiscal_year"`
	FiscalQuarter            int    `json:"fiscal_quarter"`
	PeriodEndDate            string `json:"period_end_date"`
	RevenueRaw               *int64 `json:"revenue_raw,omitempty"`
	OperatingIncomeRaw       *int64 `json:"operating_income_raw,omitempty"`
	DepreciationAmortizationRaw *int64 `json:"depreciation_amortization_raw,omitempty"`
	InterestExpenseRaw       *int64 `json:"interest_expense_raw,omitempty"`
	IncomeTaxExpenseRaw      *int64 `json:"income_tax_expense_raw,omitempty"`
	TotalDebtRaw             *int64 `json:"total_debt_raw,omitempty"`
	CashRaw                  *int64 `json:"cash_raw,omitempty"`
	TotalAssetsRaw           *int64 `json:"total_assets_raw,omitempty"`
}

// CandidateGuarantee is a debt_instrument -> guarantor edge before entity/
// instrument ID resolution.
type CandidateGuarantee struct {
	InstrumentName string `json:"instrument_name"`
	GuarantorName  string `json:"guarantor_name"`
	Conditions     string `json:"conditions,omitempty"`
}

// CandidateCollateral is a secured-instrument classification before
// instrument ID resolution.
type CandidateCollateral struct {
	InstrumentName      string   `json:"instrument_name"`
	Types               []string `json:"collateral_types"`
	Description         string   `json:"description,omitempty"`
	Priority            string   `json:"priority,omitempty"`
	EstimatedValueRaw   *int64   `json:"estimated_value_raw,omitempty"`
}

// CandidateCovenant is a structured covenant before ID resolution.
type CandidateCovenant struct {
	InstrumentName       string  `json:"instrument_name,omitempty"` // empty => company-scope, fanned out by caller
	CovenantType         string  `json:"covenant_type"`
	CovenantName         string  `json:"covenant_name"`
	TestMetric           string  `json:"test_metric,omitempty"`
	ThresholdValue       float64 `json:"threshold_value,omitempty"`
	ThresholdType        string  `json:"threshold_type,omitempty"`
	TestFrequency        string  `json:"test_frequency,omitempty"`
	Description          string  `json:"description,omitempty"`
	HasStepDown          bool    `json:"has_step_down,omitempty"`
	CurePeriodDays       int     `json:"cure_period_days,omitempty"`
	SourceText           string  `json:"source_text,omitempty"`
}
