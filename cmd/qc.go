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
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/store"
)

var qcExportParquet string

// qcFinding is one row flagged by the audit.
type qcFinding struct {
	Ticker   string
	Severity string // warning | critical
	Message  string
}

// financialsRow is the flat shape company_financials exports to parquet,
// for offline analysis outside the graph database.
type financialsRow struct {
	Ticker               string `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	FiscalYear           int32  `parquet:"name=fiscal_year, type=INT32"`
	FiscalQuarter        int32  `parquet:"name=fiscal_quarter, type=INT32"`
	RevenueCents         int64  `parquet:"name=revenue_cents, type=INT64"`
	TotalDebtCents       int64  `parquet:"name=total_debt_cents, type=INT64"`
	CashCents            int64  `parquet:"name=cash_cents, type=INT64"`
	PeriodEndDate        string `parquet:"name=period_end_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

// qcCmd represents the qc command.
var qcCmd = &cobra.Command{
	Use:   "qc",
	Short: "Run a QC audit over the whole database",
	Long: `qc scans every company's extraction_metadata for QA scores below the
pass threshold and steps recorded with status "error", reporting each as a
finding. It exits non-zero if any critical/error finding is present, so it
can gate a scheduled job.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		s, err := store.Open(ctx, config.DBUrl())
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to the graph database")
		}
		defer s.Close()

		findings, err := runQCAudit(ctx, s)
		if err != nil {
			log.Fatal().Err(err).Msg("qc audit failed")
		}

		if qcExportParquet != "" {
			if err := exportFinancialsParquet(ctx, s, qcExportParquet); err != nil {
				log.Error().Err(err).Msg("parquet export failed")
			}
		}

		r, _ := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)

		var sb strings.Builder
		sb.WriteString("# QC Audit\n\n")
		if len(findings) == 0 {
			sb.WriteString("No findings. Every company is above the QA pass threshold with no error steps.\n")
		} else {
			for _, f := range findings {
				sb.WriteString(fmt.Sprintf("- **%s** [%s] %s\n", f.Ticker, f.Severity, f.Message))
			}
		}

		out, err := r.Render(sb.String())
		if err != nil {
			log.Fatal().Err(err).Msg("could not render qc report")
		}
		fmt.Print(out)

		for _, f := range findings {
			if f.Severity == "critical" {
				os.Exit(2)
			}
		}
	},
}

// runQCAudit joins companies against their extraction_metadata, flagging a
// company below the QA pass threshold or carrying any step recorded with
// status "error".
func runQCAudit(ctx context.Context, s *store.Store) ([]qcFinding, error) {
	const sql = `SELECT c.ticker, m.qa_score, m.extraction_status
		FROM companies c
		JOIN extraction_metadata m ON m.company_id = c.id
		ORDER BY c.ticker`

	rows, err := s.Pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []qcFinding
	for rows.Next() {
		var (
			ticker  string
			qaScore int
			status  json.RawMessage
		)
		if err := rows.Scan(&ticker, &qaScore, &status); err != nil {
			return nil, err
		}

		if qaScore < config.QAPassThreshold() {
			findings = append(findings, qcFinding{
				Ticker:   ticker,
				Severity: "warning",
				Message:  fmt.Sprintf("qa_score %d below pass threshold %d", qaScore, config.QAPassThreshold()),
			})
		}

		var stepStatus map[string]struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}
		if len(status) > 0 {
			_ = json.Unmarshal(status, &stepStatus)
		}
		for step, st := range stepStatus {
			if st.Status == "error" {
				findings = append(findings, qcFinding{
					Ticker:   ticker,
					Severity: "critical",
					Message:  fmt.Sprintf("step %q recorded status error: %s", step, st.Reason),
				})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	invariantFindings, err := runInvariantAudit(ctx, s)
	if err != nil {
		return nil, err
	}
	findings = append(findings, invariantFindings...)
	return findings, nil
}

// runInvariantAudit flags rows that satisfy every per-row CHECK constraint
// in isolation but violate a cross-row invariant the database can't express:
// a senior_secured instrument with no collateral row and no
// collateral_data_confidence=unknown tag, an entity roster with zero or more
// than one root, and a guarantee whose guarantor belongs to a different
// company than the instrument it guarantees.
func runInvariantAudit(ctx context.Context, s *store.Store) ([]qcFinding, error) {
	var findings []qcFinding

	const uncollateralizedSQL = `SELECT c.ticker, di.name
		FROM debt_instruments di
		JOIN companies c ON c.id = di.company_id
		WHERE di.seniority = 'senior_secured'
			AND di.is_active
			AND NOT (di.attributes ? 'collateral_data_confidence')
			AND NOT EXISTS (SELECT 1 FROM collateral col WHERE col.debt_instrument_id = di.id)`
	rows, err := s.Pool.Query(ctx, uncollateralizedSQL)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ticker, name string
		if err := rows.Scan(&ticker, &name); err != nil {
			rows.Close()
			return nil, err
		}
		findings = append(findings, qcFinding{
			Ticker: ticker, Severity: "warning",
			Message: fmt.Sprintf("senior_secured instrument %q has neither a collateral row nor an unknown tag", name),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const rootCountSQL = `SELECT c.ticker, COUNT(*) FILTER (WHERE e.is_root)
		FROM companies c
		JOIN entities e ON e.company_id = c.id
		GROUP BY c.ticker
		HAVING COUNT(*) FILTER (WHERE e.is_root) <> 1`
	rows, err = s.Pool.Query(ctx, rootCountSQL)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ticker string
		var rootCount int
		if err := rows.Scan(&ticker, &rootCount); err != nil {
			rows.Close()
			return nil, err
		}
		findings = append(findings, qcFinding{
			Ticker: ticker, Severity: "critical",
			Message: fmt.Sprintf("entity roster has %d root entities, expected exactly 1", rootCount),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const crossCompanyGuaranteeSQL = `SELECT c.ticker, e.name
		FROM guarantees g
		JOIN debt_instruments di ON di.id = g.debt_instrument_id
		JOIN companies c ON c.id = di.company_id
		JOIN entities e ON e.id = g.guarantor_entity_id
		WHERE e.company_id <> di.company_id`
	rows, err = s.Pool.Query(ctx, crossCompanyGuaranteeSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ticker, guarantorName string
		if err := rows.Scan(&ticker, &guarantorName); err != nil {
			return nil, err
		}
		findings = append(findings, qcFinding{
			Ticker: ticker, Severity: "critical",
			Message: fmt.Sprintf("guarantor %q belongs to a different company than the instrument it guarantees", guarantorName),
		})
	}
	return findings, rows.Err()
}

// exportFinancialsParquet dumps company_financials joined against companies
// to a parquet file at fn, for offline analysis, using a local
// writer/row-group/ZSTD idiom.
func exportFinancialsParquet(ctx context.Context, s *store.Store, fn string) error {
	const sql = `SELECT c.ticker, f.fiscal_year, f.fiscal_quarter, f.revenue_cents,
		f.total_debt_cents, f.cash_cents, f.period_end_date
		FROM company_financials f
		JOIN companies c ON c.id = f.company_id
		ORDER BY c.ticker, f.period_end_date`

	rows, err := s.Pool.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()

	var records []*financialsRow
	for rows.Next() {
		var rec financialsRow
		var periodEnd time.Time
		if err := rows.Scan(&rec.Ticker, &rec.FiscalYear, &rec.FiscalQuarter, &rec.RevenueCents,
			&rec.TotalDebtCents, &rec.CashCents, &periodEnd); err != nil {
			return err
		}
		rec.PeriodEndDate = periodEnd.Format("2006-01-02")
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fh, err := local.NewLocalFileWriter(fn)
	if err != nil {
		return err
	}
	defer fh.Close()

	pw, err := writer.NewParquetWriter(fh, new(financialsRow), 4)
	if err != nil {
		return err
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	for _, r := range records {
		if err := pw.Write(r); err != nil {
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return err
	}

	log.Info().Str("file", fn).Int("rows", len(records)).Msg("wrote company financials parquet export")
	return nil
}

func init() {
	rootCmd.AddCommand(qcCmd)
	qcCmd.Flags().StringVar(&qcExportParquet, "export-parquet", "", "write company_financials to this parquet file")
}
