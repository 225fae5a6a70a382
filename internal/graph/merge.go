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
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Merger writes extraction deltas into the graph. Every method opens
// its own transaction and commits or rolls back exactly once.
type Merger struct {
	Pool *pgxpool.Pool
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			if !errors.Is(err, pgx.ErrTxClosed) {
				log.Error().Err(err).Msg("error rolling back tx")
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// EnsureCompany upserts a Company by (ticker, cik) and returns its id.
func (m *Merger) EnsureCompany(ctx context.Context, c *Company) (uuid.UUID, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	err := withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := `INSERT INTO companies ("id", "ticker", "cik", "legal_name", "industry", "sector")
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (ticker) DO UPDATE SET
	legal_name = EXCLUDED.legal_name,
	industry = COALESCE(NULLIF(EXCLUDED.industry, ''), companies.industry),
	sector = COALESCE(NULLIF(EXCLUDED.sector, ''), companies.sector)
RETURNING id;`
		return tx.QueryRow(ctx, sql, c.ID, c.Ticker, c.CIK, c.LegalName, c.Industry, c.Sector).Scan(&c.ID)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

// UpsertEntity upserts by (company, name slug), resolving slug collisions by
// suffixing a deterministic token. Existing non-null fields are preserved
// unless the incoming record carries strictly higher confidence. On
// conflict, Postgres keeps the existing row's id rather than the one
// generated above, so the id actually stored is always read back via
// RETURNING; callers that cache e.ID before this returns (as the
// orchestrator does for issuer/parent references) would otherwise point at
// an id that was never persisted.
func (m *Merger) UpsertEntity(ctx context.Context, e *Entity) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Slug == "" {
		e.Slug = EntitySlug(ctx, m.Pool, e.CompanyID, e.Name)
	}

	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := fmt.Sprintf(`INSERT INTO entities
	("id", "company_id", "name", "slug", "jurisdiction", "entity_type", "is_guarantor",
	 "is_unrestricted", "is_root", "parent_entity_id", "source_filing_url", "filing_date",
	 "extraction_timestamp", "extraction_method", "confidence")
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT ON CONSTRAINT %[1]s
DO UPDATE SET
	jurisdiction = CASE WHEN EXCLUDED.confidence > entities.confidence
		THEN EXCLUDED.jurisdiction ELSE COALESCE(entities.jurisdiction, EXCLUDED.jurisdiction) END,
	entity_type = CASE WHEN EXCLUDED.confidence > entities.confidence
		THEN EXCLUDED.entity_type ELSE COALESCE(entities.entity_type, EXCLUDED.entity_type) END,
	is_guarantor = entities.is_guarantor OR EXCLUDED.is_guarantor,
	is_unrestricted = EXCLUDED.is_unrestricted,
	parent_entity_id = COALESCE(entities.parent_entity_id, EXCLUDED.parent_entity_id),
	confidence = GREATEST(entities.confidence, EXCLUDED.confidence)
RETURNING id;`, "entities_company_id_slug_key")

		return tx.QueryRow(ctx, sql, e.ID, e.CompanyID, e.Name, e.Slug, e.Jurisdiction, e.EntityType,
			e.IsGuarantor, e.IsUnrestricted, e.IsRoot, e.ParentEntityID, e.SourceFilingURL, e.FilingDate,
			e.ExtractionTime, e.ExtractionMethod, e.Confidence).Scan(&e.ID)
	})
}

// EntitySlug derives a slug from the normalized name, suffixing a
// deterministic token on collision within the company's namespace.
func EntitySlug(ctx context.Context, pool *pgxpool.Pool, companyID uuid.UUID, name string) string {
	base := slug.Make(name)
	candidate := base
	for suffix := 2; ; suffix++ {
		var existingName string
		err := pool.QueryRow(ctx,
			`SELECT name FROM entities WHERE company_id=$1 AND slug=$2`, companyID, candidate).
			Scan(&existingName)
		if errors.Is(err, pgx.ErrNoRows) {
			return candidate
		}
		if err == nil && existingName == name {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}
}

// UpsertDebtInstrument upserts by (company, issuer, name, maturity_date);
// the table's actual natural key; tie-breaking on CUSIP when present to
// find the row to update before the conflict even fires (CUSIP can outlive
// a name correction that the natural key wouldn't catch).
func (m *Merger) UpsertDebtInstrument(ctx context.Context, d *DebtInstrument) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		if d.CUSIP != "" {
			var existing uuid.UUID
			err := tx.QueryRow(ctx, `SELECT id FROM debt_instruments WHERE company_id=$1 AND cusip=$2`,
				d.CompanyID, d.CUSIP).Scan(&existing)
			if err == nil {
				d.ID = existing
			} else if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}

		sql := `INSERT INTO debt_instruments
	("id", "company_id", "issuer_entity_id", "name", "seniority", "security_type",
	 "interest_rate_bps", "is_floating", "benchmark", "spread_bps", "floor_bps",
	 "issue_date", "maturity_date", "principal_cents", "outstanding_cents", "is_drawn",
	 "is_active", "cusip", "isin", "currency", "attributes",
	 "source_filing_url", "filing_date", "extraction_timestamp", "extraction_method", "confidence")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
ON CONFLICT (company_id, issuer_entity_id, name, maturity_date) DO UPDATE SET
	seniority = EXCLUDED.seniority,
	security_type = COALESCE(NULLIF(EXCLUDED.security_type, ''), debt_instruments.security_type),
	interest_rate_bps = EXCLUDED.interest_rate_bps,
	is_floating = EXCLUDED.is_floating,
	benchmark = COALESCE(NULLIF(EXCLUDED.benchmark, ''), debt_instruments.benchmark),
	spread_bps = EXCLUDED.spread_bps,
	floor_bps = EXCLUDED.floor_bps,
	issue_date = COALESCE(debt_instruments.issue_date, EXCLUDED.issue_date),
	outstanding_cents = CASE
		WHEN EXCLUDED.confidence > debt_instruments.confidence THEN EXCLUDED.outstanding_cents
		ELSE COALESCE(debt_instruments.outstanding_cents, EXCLUDED.outstanding_cents) END,
	is_drawn = EXCLUDED.is_drawn,
	cusip = COALESCE(NULLIF(EXCLUDED.cusip, ''), debt_instruments.cusip),
	isin = COALESCE(NULLIF(EXCLUDED.isin, ''), debt_instruments.isin),
	attributes = debt_instruments.attributes || EXCLUDED.attributes,
	confidence = GREATEST(debt_instruments.confidence, EXCLUDED.confidence)
RETURNING id;`

		return tx.QueryRow(ctx, sql, d.ID, d.CompanyID, d.IssuerEntityID, d.Name, d.Seniority,
			d.SecurityType, d.InterestRateBps, d.IsFloating, d.Benchmark, d.SpreadBps, d.FloorBps,
			d.IssueDate, d.MaturityDate, d.PrincipalCents, d.OutstandingCents, d.IsDrawn, d.IsActive,
			nullIfEmpty(d.CUSIP), nullIfEmpty(d.ISIN), d.Currency, attributesOrEmpty(d.Attributes),
			d.SourceFilingURL, d.FilingDate, d.ExtractionTime, d.ExtractionMethod, d.Confidence).Scan(&d.ID)
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func attributesOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// UpsertGuarantee upserts by (instrument, guarantor), so a guarantee
// reconfirmed across filings dedupes onto one row instead of accumulating.
func (m *Merger) UpsertGuarantee(ctx context.Context, g *Guarantee) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := `INSERT INTO guarantees
	("id", "company_id", "debt_instrument_id", "guarantor_entity_id", "conditions", "confidence")
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (debt_instrument_id, guarantor_entity_id) DO UPDATE SET
	conditions = COALESCE(NULLIF(EXCLUDED.conditions, ''), guarantees.conditions),
	confidence = CASE
		WHEN guarantees.confidence = 'verified' THEN guarantees.confidence
		WHEN EXCLUDED.confidence = 'verified' THEN EXCLUDED.confidence
		WHEN guarantees.confidence = 'extracted' THEN guarantees.confidence
		ELSE EXCLUDED.confidence END;`
		_, err := tx.Exec(ctx, sql, g.ID, g.CompanyID, g.DebtInstrumentID, g.GuarantorEntityID, g.Conditions, g.Confidence)
		return err
	})
}

// UpsertCollateral upserts by (instrument, type, description).
func (m *Merger) UpsertCollateral(ctx context.Context, c *Collateral) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := `INSERT INTO collateral
	("id", "debt_instrument_id", "collateral_type", "description", "priority", "estimated_value_cents")
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (debt_instrument_id, collateral_type, description) DO UPDATE SET
	priority = COALESCE(collateral.priority, EXCLUDED.priority),
	estimated_value_cents = COALESCE(EXCLUDED.estimated_value_cents, collateral.estimated_value_cents);`
		_, err := tx.Exec(ctx, sql, c.ID, c.DebtInstrumentID, c.CollateralType, c.Description, c.Priority, c.EstimatedValueCents)
		return err
	})
}

// UpsertOwnershipLink upserts a parent->child ownership edge by
// (parent_entity, child_entity), so reconfirming the same edge across
// filings updates the existing row instead of accumulating duplicates.
func (m *Merger) UpsertOwnershipLink(ctx context.Context, l *OwnershipLink) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := `INSERT INTO ownership_links
	("id", "company_id", "parent_entity_id", "child_entity_id", "ownership_type", "ownership_percent", "evidence_quote")
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (parent_entity_id, child_entity_id) DO UPDATE SET
	ownership_type = COALESCE(NULLIF(EXCLUDED.ownership_type, ''), ownership_links.ownership_type),
	ownership_percent = COALESCE(EXCLUDED.ownership_percent, ownership_links.ownership_percent),
	evidence_quote = COALESCE(NULLIF(EXCLUDED.evidence_quote, ''), ownership_links.evidence_quote);`
		_, err := tx.Exec(ctx, sql, l.ID, l.CompanyID, l.ParentEntityID, l.ChildEntityID,
			nullIfEmpty(string(l.OwnershipType)), l.OwnershipPercent, nullIfEmpty(l.EvidenceQuote))
		return err
	})
}

// UpsertCovenant upserts a covenant by (company, covenant_name,
// debt_instrument), the natural key covenants_dedupe_idx enforces (treating
// a null debt_instrument_id as company scope rather than a wildcard that
// would never conflict).
func (m *Merger) UpsertCovenant(ctx context.Context, c *Covenant) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := `INSERT INTO covenants
	("id", "company_id", "debt_instrument_id", "source_section_id", "covenant_type", "covenant_name",
	 "test_metric", "threshold_value", "threshold_type", "test_frequency", "description",
	 "has_step_down", "cure_period_days", "extraction_confidence", "source_text")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (company_id, covenant_name, COALESCE(debt_instrument_id, '00000000-0000-0000-0000-000000000000'))
DO UPDATE SET
	test_metric = COALESCE(NULLIF(EXCLUDED.test_metric, ''), covenants.test_metric),
	threshold_value = COALESCE(EXCLUDED.threshold_value, covenants.threshold_value),
	threshold_type = COALESCE(EXCLUDED.threshold_type, covenants.threshold_type),
	test_frequency = COALESCE(NULLIF(EXCLUDED.test_frequency, ''), covenants.test_frequency),
	description = COALESCE(NULLIF(EXCLUDED.description, ''), covenants.description),
	has_step_down = EXCLUDED.has_step_down OR covenants.has_step_down,
	cure_period_days = COALESCE(EXCLUDED.cure_period_days, covenants.cure_period_days),
	extraction_confidence = GREATEST(covenants.extraction_confidence, EXCLUDED.extraction_confidence),
	source_text = COALESCE(NULLIF(EXCLUDED.source_text, ''), covenants.source_text);`
		_, err := tx.Exec(ctx, sql, c.ID, c.CompanyID, c.DebtInstrumentID, c.SourceSectionID, c.CovenantType,
			c.CovenantName, c.TestMetric, nullFloat(c.ThresholdValue), c.ThresholdType, c.TestFrequency,
			c.Description, c.HasStepDown, c.CurePeriodDays, c.ExtractionConfidence, c.SourceText)
		return err
	})
}

func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

// UpsertCompanyFinancials upserts one fiscal-period row.
func (m *Merger) UpsertCompanyFinancials(ctx context.Context, f *CompanyFinancials) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := `INSERT INTO company_financials
	("id", "company_id", "fiscal_year", "fiscal_quarter", "revenue_cents", "operating_income_cents",
	 "depreciation_amortization_cents", "interest_expense_cents", "income_tax_expense_cents",
	 "total_debt_cents", "cash_cents", "total_assets_cents", "source_filing_url", "period_end_date")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (company_id, fiscal_year, fiscal_quarter, period_end_date) DO UPDATE SET
	revenue_cents = EXCLUDED.revenue_cents,
	operating_income_cents = EXCLUDED.operating_income_cents,
	depreciation_amortization_cents = EXCLUDED.depreciation_amortization_cents,
	interest_expense_cents = EXCLUDED.interest_expense_cents,
	income_tax_expense_cents = EXCLUDED.income_tax_expense_cents,
	total_debt_cents = EXCLUDED.total_debt_cents,
	cash_cents = EXCLUDED.cash_cents,
	total_assets_cents = EXCLUDED.total_assets_cents,
	source_filing_url = EXCLUDED.source_filing_url;`
		_, err := tx.Exec(ctx, sql, f.ID, f.CompanyID, f.FiscalYear, f.FiscalQuarter, f.RevenueCents,
			f.OperatingIncomeCents, f.DepreciationAmortizationCents, f.InterestExpenseCents,
			f.IncomeTaxExpenseCents, f.TotalDebtCents, f.CashCents, f.TotalAssetsCents,
			f.SourceFilingURL, f.PeriodEndDate)
		return err
	})
}

// UpsertDocumentSection inserts a section (sections are append-only; the
// segmenter is idempotent, so re-segmenting the same filing yields the same
// set, and content-based dedupe avoids duplicate rows on re-run).
func (m *Merger) UpsertDocumentSection(ctx context.Context, s *DocumentSection) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		var existing uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT id FROM document_sections WHERE company_id=$1 AND section_type=$2 AND filing_date=$3 AND content_length=$4`,
			s.CompanyID, s.SectionType, s.FilingDate, s.ContentLength).Scan(&existing)
		if err == nil {
			s.ID = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		sql := `INSERT INTO document_sections
	("id", "company_id", "doc_type", "section_type", "filing_date", "title", "content",
	 "content_length", "sec_filing_url")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
		_, err = tx.Exec(ctx, sql, s.ID, s.CompanyID, s.DocType, s.SectionType, s.FilingDate, s.Title,
			s.Content, s.ContentLength, s.SECFilingURL)
		return err
	})
}

// UpsertDocumentLink upserts by (instrument, section, relationship).
func (m *Merger) UpsertDocumentLink(ctx context.Context, l *DocumentLink) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		sql := `INSERT INTO document_links
	("id", "debt_instrument_id", "document_section_id", "relationship_type", "confidence", "match_method")
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (debt_instrument_id, document_section_id, relationship_type) DO UPDATE SET
	confidence = EXCLUDED.confidence,
	match_method = EXCLUDED.match_method;`
		_, err := tx.Exec(ctx, sql, l.ID, l.DebtInstrumentID, l.DocumentSectionID, l.RelationshipType, l.Confidence, l.MatchMethod)
		return err
	})
}

// MarkCollateralUnknown tags a senior_secured instrument that has no
// collateral row with collateral_data_confidence=unknown rather than
// leaving the gap silently unexplained; the check is re-evaluated against
// the current collateral table each call, so a later collateral merge
// naturally supersedes a stale "unknown" tag without this method needing to
// clear it itself.
func (m *Merger) MarkCollateralUnknown(ctx context.Context, instrumentID uuid.UUID) error {
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE debt_instruments SET attributes = attributes || '{"collateral_data_confidence":"unknown"}'::jsonb
			 WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM collateral WHERE debt_instrument_id = $1)`, instrumentID)
		return err
	})
}

// DeactivateInstrument marks an instrument inactive and records why, rather
// than deleting it; the row stays as a historical record once a bond is
// gone (matured, redeemed, superseded), and nothing downstream deletes.
func (m *Merger) DeactivateInstrument(ctx context.Context, id uuid.UUID, reason string) error {
	return withTx(ctx, m.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE debt_instruments SET is_active = false,
			 attributes = attributes || jsonb_build_object('deactivation_reason', $2::text)
			 WHERE id = $1`, id, reason)
		return err
	})
}
