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
// Package graph holds the DebtStack credit-data graph: companies, legal
// entities, debt instruments, guarantees, collateral, covenants, and
// financials, plus the idempotent merger that writes extraction deltas
// into them.
//
// All monetary values are integer cents; all rates are integer basis
// points, so the graph never loses precision to floating point.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// Seniority ranks a debt instrument's claim on collateral.
type Seniority string

const (
	SeniorSecured   Seniority = "senior_secured"
	SeniorUnsecured Seniority = "senior_unsecured"
	Subordinated    Seniority = "subordinated"
)

// EntityType classifies a legal entity within a company's ownership graph.
type EntityType string

const (
	HoldCo     EntityType = "holdco"
	OpCo       EntityType = "opco"
	FinCo      EntityType = "finco"
	SPV        EntityType = "spv"
	Subsidiary EntityType = "subsidiary"
)

// OwnershipType qualifies an ownership link; null means the source text
// never said direct or indirect explicitly.
type OwnershipType string

const (
	OwnershipDirect   OwnershipType = "direct"
	OwnershipIndirect OwnershipType = "indirect"
	OwnershipUnknown  OwnershipType = ""
)

// GuaranteeConfidence tags how a guarantee edge was sourced.
type GuaranteeConfidence string

const (
	GuaranteeVerified GuaranteeConfidence = "verified"
	GuaranteeExtracted GuaranteeConfidence = "extracted"
	GuaranteePartial   GuaranteeConfidence = "partial"
	GuaranteeUnknown   GuaranteeConfidence = "unknown"
)

// CollateralType enumerates the asset classes a collateral record may cover.
type CollateralType string

const (
	CollateralRealEstate      CollateralType = "real_estate"
	CollateralEquipment       CollateralType = "equipment"
	CollateralVehicles        CollateralType = "vehicles"
	CollateralReceivables     CollateralType = "receivables"
	CollateralInventory       CollateralType = "inventory"
	CollateralIP              CollateralType = "ip"
	CollateralCash            CollateralType = "cash"
	CollateralSecurities      CollateralType = "securities"
	CollateralSubsidiaryStock CollateralType = "subsidiary_stock"
	CollateralEnergyAssets    CollateralType = "energy_assets"
	CollateralGeneralLien     CollateralType = "general_lien"
)

// CollateralPriority ranks competing liens on the same asset.
type CollateralPriority string

const (
	FirstLien  CollateralPriority = "first_lien"
	SecondLien CollateralPriority = "second_lien"
)

// CovenantType classifies a covenant's legal character.
type CovenantType string

const (
	CovenantFinancial  CovenantType = "financial"
	CovenantNegative   CovenantType = "negative"
	CovenantIncurrence CovenantType = "incurrence"
	CovenantProtective CovenantType = "protective"
)

// ThresholdType says whether a covenant's test_metric must stay under or over
// threshold_value.
type ThresholdType string

const (
	ThresholdMaximum ThresholdType = "maximum"
	ThresholdMinimum ThresholdType = "minimum"
)

// DocType is the SEC form family a Document Section was extracted from.
type DocType string

const (
	Doc10K    DocType = "10-K"
	Doc10Q    DocType = "10-Q"
	Doc8K     DocType = "8-K"
	DocExhibit DocType = "exhibit"
)

// SectionType is the taxonomy the section segmenter classifies into.
type SectionType string

const (
	SectionExhibit21       SectionType = "exhibit_21"
	SectionExhibit22       SectionType = "exhibit_22"
	SectionDebtFootnote    SectionType = "debt_footnote"
	SectionMDALiquidity    SectionType = "mda_liquidity"
	SectionCreditAgreement SectionType = "credit_agreement"
	SectionIndenture       SectionType = "indenture"
	SectionGuarantorList   SectionType = "guarantor_list"
	SectionCovenants       SectionType = "covenants"
	SectionDescSecurities  SectionType = "desc_securities"
)

// RelationshipType qualifies a debt instrument ↔ document link.
type RelationshipType string

const (
	RelationGoverns    RelationshipType = "governs"
	RelationReferences RelationshipType = "references"
)

// Provenance is attached to every extracted fact.
type Provenance struct {
	SourceFilingURL   string    `json:"source_filing_url,omitempty"`
	FilingDate        time.Time `json:"filing_date,omitempty"`
	ExtractionTime    time.Time `json:"extraction_timestamp,omitempty"`
	ExtractionMethod  string    `json:"extraction_method,omitempty"`
	Confidence        float64   `json:"confidence,omitempty"`
}

// Company is the ticker/CIK-identified root of a credit-data graph.
type Company struct {
	ID        uuid.UUID `db:"id"`
	Ticker    string    `db:"ticker"`
	CIK       string    `db:"cik"`
	LegalName string    `db:"legal_name"`
	Industry  string    `db:"industry"`
	Sector    string    `db:"sector"`
	CreatedOn time.Time `db:"created_on"`
}

// Entity is a legal entity belonging to exactly one Company.
type Entity struct {
	ID             uuid.UUID  `db:"id"`
	CompanyID      uuid.UUID  `db:"company_id"`
	Name           string     `db:"name"`
	Slug           string     `db:"slug"`
	Jurisdiction   string     `db:"jurisdiction"`
	EntityType     EntityType `db:"entity_type"`
	IsGuarantor    bool       `db:"is_guarantor"`
	IsUnrestricted bool       `db:"is_unrestricted"`
	IsRoot         bool       `db:"is_root"`
	ParentEntityID *uuid.UUID `db:"parent_entity_id"`
	Provenance
}

// OwnershipLink is a directed edge parent_entity → child_entity. Ownership
// is modeled as a graph rather than a tree, since joint ventures and
// co-guaranteed subsidiaries can legitimately have more than one parent.
type OwnershipLink struct {
	ID                uuid.UUID     `db:"id"`
	CompanyID         uuid.UUID     `db:"company_id"`
	ParentEntityID    uuid.UUID     `db:"parent_entity_id"`
	ChildEntityID     uuid.UUID     `db:"child_entity_id"`
	OwnershipType     OwnershipType `db:"ownership_type"`
	OwnershipPercent  *float64      `db:"ownership_percent"`
	EvidenceQuote     string        `db:"evidence_quote"`
}

// DebtInstrument is a single bond series, term loan, or revolver.
type DebtInstrument struct {
	ID             uuid.UUID         `db:"id"`
	CompanyID      uuid.UUID         `db:"company_id"`
	IssuerEntityID uuid.UUID         `db:"issuer_entity_id"`
	Name           string            `db:"name"`
	Seniority      Seniority         `db:"seniority"`
	SecurityType   string            `db:"security_type"`
	InterestRateBps int64            `db:"interest_rate_bps"`
	IsFloating     bool              `db:"is_floating"`
	Benchmark      string            `db:"benchmark"`
	SpreadBps      int64             `db:"spread_bps"`
	FloorBps       int64             `db:"floor_bps"`
	IssueDate      *time.Time        `db:"issue_date"`
	MaturityDate   *time.Time        `db:"maturity_date"`
	PrincipalCents int64             `db:"principal_cents"`
	OutstandingCents *int64          `db:"outstanding_cents"`
	IsDrawn        bool              `db:"is_drawn"`
	IsActive       bool              `db:"is_active"`
	CUSIP          string            `db:"cusip"`
	ISIN           string            `db:"isin"`
	Currency       string            `db:"currency"`
	Attributes     map[string]any    `db:"attributes"`
	Provenance
}

// Guarantee is an edge debt_instrument → guarantor_entity.
type Guarantee struct {
	ID               uuid.UUID           `db:"id"`
	CompanyID        uuid.UUID           `db:"company_id"`
	DebtInstrumentID uuid.UUID           `db:"debt_instrument_id"`
	GuarantorEntityID uuid.UUID          `db:"guarantor_entity_id"`
	Conditions       string              `db:"conditions"`
	Confidence       GuaranteeConfidence `db:"confidence"`
}

// Collateral belongs to a debt instrument.
type Collateral struct {
	ID               uuid.UUID          `db:"id"`
	DebtInstrumentID uuid.UUID          `db:"debt_instrument_id"`
	CollateralType   CollateralType     `db:"collateral_type"`
	Description      string             `db:"description"`
	Priority         CollateralPriority `db:"priority"`
	EstimatedValueCents *int64          `db:"estimated_value_cents"`
}

// Covenant belongs to a Company, optionally scoped to a debt instrument and
// a source document section.
type Covenant struct {
	ID                 uuid.UUID   `db:"id"`
	CompanyID          uuid.UUID   `db:"company_id"`
	DebtInstrumentID   *uuid.UUID  `db:"debt_instrument_id"`
	SourceSectionID    *uuid.UUID  `db:"source_section_id"`
	CovenantType       CovenantType `db:"covenant_type"`
	CovenantName       string      `db:"covenant_name"`
	TestMetric         string      `db:"test_metric"`
	ThresholdValue     float64     `db:"threshold_value"`
	ThresholdType      ThresholdType `db:"threshold_type"`
	TestFrequency      string      `db:"test_frequency"`
	Description        string      `db:"description"`
	HasStepDown        bool        `db:"has_step_down"`
	CurePeriodDays     int         `db:"cure_period_days"`
	ExtractionConfidence float64   `db:"extraction_confidence"`
	SourceText         string      `db:"source_text"`
}

// CompanyFinancials is one row per (company, fiscal period).
type CompanyFinancials struct {
	ID                       uuid.UUID `db:"id"`
	CompanyID                uuid.UUID `db:"company_id"`
	FiscalYear               int       `db:"fiscal_year"`
	FiscalQuarter            int       `db:"fiscal_quarter"`
	RevenueCents             int64     `db:"revenue_cents"`
	OperatingIncomeCents     int64     `db:"operating_income_cents"`
	DepreciationAmortizationCents int64 `db:"depreciation_amortization_cents"`
	InterestExpenseCents     int64     `db:"interest_expense_cents"`
	IncomeTaxExpenseCents    int64     `db:"income_tax_expense_cents"`
	TotalDebtCents           int64     `db:"total_debt_cents"`
	CashCents                int64     `db:"cash_cents"`
	TotalAssetsCents         int64     `db:"total_assets_cents"`
	SourceFilingURL          string    `db:"source_filing_url"`
	PeriodEndDate            time.Time `db:"period_end_date"`
}

// EBITDACents is computed on read rather than stored, since it's a pure
// function of columns already on the row and storing it would invite drift.
func (f CompanyFinancials) EBITDACents() int64 {
	return f.OperatingIncomeCents + f.DepreciationAmortizationCents
}

// DocumentSection belongs to a Company.
type DocumentSection struct {
	ID            uuid.UUID   `db:"id"`
	CompanyID     uuid.UUID   `db:"company_id"`
	DocType       DocType     `db:"doc_type"`
	SectionType   SectionType `db:"section_type"`
	FilingDate    time.Time   `db:"filing_date"`
	Title         string      `db:"title"`
	Content       string      `db:"content"`
	ContentLength int         `db:"content_length"`
	SECFilingURL  string      `db:"sec_filing_url"`
}

// DocumentLink is an edge debt_instrument ↔ document_section.
type DocumentLink struct {
	ID               uuid.UUID        `db:"id"`
	DebtInstrumentID uuid.UUID        `db:"debt_instrument_id"`
	DocumentSectionID uuid.UUID       `db:"document_section_id"`
	RelationshipType RelationshipType `db:"relationship_type"`
	Confidence       float64          `db:"confidence"`
	MatchMethod      string           `db:"match_method"`
}

// StepStatus records the outcome of one orchestrator step for skip logic.
type StepStatus struct {
	Status string    `json:"status"` // success | no_data | error | skipped
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ExtractionMetadata is the per-company control record the Merger and
// Orchestrator consult to decide skip/proceed and to expose via the
// include-metadata API contract.
type ExtractionMetadata struct {
	CompanyID        uuid.UUID             `db:"company_id"`
	QAScore          int                   `db:"qa_score"`
	ExtractionMethod string                `db:"extraction_method"`
	DataVersion      int                   `db:"data_version"`
	FieldConfidence  map[string]float64    `db:"field_confidence"`
	Warnings         []string              `db:"warnings"`
	ExtractionStatus map[string]StepStatus `db:"extraction_status"`
	LatestQuarter    *time.Time            `db:"latest_quarter"`
}
