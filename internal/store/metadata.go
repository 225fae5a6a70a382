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
package store

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/debtstack/debtstack/internal/graph"
)

// row mirrors extraction_metadata's jsonb columns as raw bytes, since scany
// scans into a json.RawMessage rather than the struct's map/slice fields
// directly.
type metadataRow struct {
	CompanyID        uuid.UUID       `db:"company_id"`
	QAScore          int             `db:"qa_score"`
	ExtractionMethod string          `db:"extraction_method"`
	DataVersion      int             `db:"data_version"`
	FieldConfidence  json.RawMessage `db:"field_confidence"`
	Warnings         json.RawMessage `db:"warnings"`
	ExtractionStatus json.RawMessage `db:"extraction_status"`
	LatestQuarter    *time.Time      `db:"latest_quarter"`
}

// GetExtractionMetadata loads the per-company control record, returning
// (zero value, false, nil) when the company has never been run.
func (s *Store) GetExtractionMetadata(ctx context.Context, companyID uuid.UUID) (graph.ExtractionMetadata, bool, error) {
	var row metadataRow
	err := pgxscan.Get(ctx, s.Pool, &row, `SELECT company_id, qa_score, extraction_method, data_version,
		field_confidence, warnings, extraction_status, latest_quarter
		FROM extraction_metadata WHERE company_id = $1`, companyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return graph.ExtractionMetadata{}, false, nil
		}
		return graph.ExtractionMetadata{}, false, err
	}

	meta := graph.ExtractionMetadata{
		CompanyID:        row.CompanyID,
		QAScore:          row.QAScore,
		ExtractionMethod: row.ExtractionMethod,
		DataVersion:      row.DataVersion,
	}
	if len(row.FieldConfidence) > 0 {
		_ = json.Unmarshal(row.FieldConfidence, &meta.FieldConfidence)
	}
	if len(row.Warnings) > 0 {
		_ = json.Unmarshal(row.Warnings, &meta.Warnings)
	}
	if len(row.ExtractionStatus) > 0 {
		_ = json.Unmarshal(row.ExtractionStatus, &meta.ExtractionStatus)
	}
	meta.LatestQuarter = row.LatestQuarter

	return meta, true, nil
}

// SaveExtractionMetadata upserts the control record, called once per
// orchestrator run after every step has recorded its StepStatus.
func (s *Store) SaveExtractionMetadata(ctx context.Context, meta graph.ExtractionMetadata) error {
	fieldConfidence, err := json.Marshal(meta.FieldConfidence)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(meta.Warnings)
	if err != nil {
		return err
	}
	status, err := json.Marshal(meta.ExtractionStatus)
	if err != nil {
		return err
	}

	const sql = `INSERT INTO extraction_metadata
	(company_id, qa_score, extraction_method, data_version, field_confidence, warnings, extraction_status, latest_quarter)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (company_id) DO UPDATE SET
	qa_score = EXCLUDED.qa_score,
	extraction_method = EXCLUDED.extraction_method,
	data_version = extraction_metadata.data_version + 1,
	field_confidence = EXCLUDED.field_confidence,
	warnings = EXCLUDED.warnings,
	extraction_status = extraction_metadata.extraction_status || EXCLUDED.extraction_status,
	latest_quarter = COALESCE(EXCLUDED.latest_quarter, extraction_metadata.latest_quarter);`

	_, err = s.Pool.Exec(ctx, sql, meta.CompanyID, meta.QAScore, meta.ExtractionMethod, meta.DataVersion,
		fieldConfidence, warnings, status, meta.LatestQuarter)
	return err
}
