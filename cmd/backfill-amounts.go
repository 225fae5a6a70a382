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
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/extract"
	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/scale"
	"github.com/debtstack/debtstack/internal/store"
)

var (
	backfillTicker     string
	backfillAllMissing bool
)

type missingInstrument struct {
	ID      uuid.UUID
	Name    string
	Ticker  string
	Content string
}

// backfillAmountsCmd represents the backfill-amounts command.
var backfillAmountsCmd = &cobra.Command{
	Use:   "backfill-amounts",
	Short: "Fill missing outstanding amounts from stored sections using a scoped LLM pass",
	Long: `backfill-amounts finds debt instruments with no outstanding_cents value,
re-runs a scoped extraction over the document section(s) already linked to
that instrument, and writes the resolved amount back; without re-running
the full pipeline.`,
	Run: func(cmd *cobra.Command, args []string) {
		if backfillTicker == "" && !backfillAllMissing {
			log.Error().Msg("provide --ticker, or pass --all-missing")
			os.Exit(3)
		}

		ctx := context.Background()
		s, err := store.Open(ctx, config.DBUrl())
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to the graph database")
		}
		defer s.Close()

		targets, err := findMissingAmounts(ctx, s, backfillTicker)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load instruments with missing amounts")
		}

		if len(targets) == 0 {
			log.Info().Msg("no instruments with missing outstanding amounts")
			return
		}

		core := extract.NewCoreExtractor(llm.NewClient())
		filled := 0
		for _, t := range targets {
			if t.Content == "" {
				log.Warn().Str("instrument", t.Name).Str("ticker", t.Ticker).Msg("no linked document section text, skipping")
				continue
			}

			extraction, err := core.Extract(ctx, t.Content, 0)
			if err != nil {
				log.Warn().Err(err).Str("instrument", t.Name).Msg("scoped extraction failed, skipping")
				continue
			}

			amount := findOutstandingFor(extraction, t.Name)
			if amount == nil {
				continue
			}

			sc := scale.DetectNear(t.Content, 0)
			cents := sc.ToCents(*amount)

			if err := applyBackfill(ctx, s, t.ID, cents); err != nil {
				log.Warn().Err(err).Str("instrument", t.Name).Msg("could not write backfilled amount")
				continue
			}
			filled++
		}

		log.Info().Int("filled", filled).Int("candidates", len(targets)).Msg("backfill-amounts complete")
	},
}

// findMissingAmounts returns every instrument with outstanding_cents NULL,
// joined against the content of its highest-confidence linked document
// section, optionally
// scoped to one ticker.
func findMissingAmounts(ctx context.Context, s *store.Store, ticker string) ([]missingInstrument, error) {
	const baseSQL = `SELECT d.id, d.name, c.ticker, COALESCE(ds.content, '')
		FROM debt_instruments d
		JOIN companies c ON c.id = d.company_id
		LEFT JOIN LATERAL (
			SELECT document_section_id FROM document_links l
			WHERE l.debt_instrument_id = d.id
			ORDER BY l.confidence DESC LIMIT 1
		) best ON true
		LEFT JOIN document_sections ds ON ds.id = best.document_section_id
		WHERE d.outstanding_cents IS NULL AND d.is_active`

	var (
		err  error
		rows pgx.Rows
	)
	if ticker != "" {
		rows, err = s.Pool.Query(ctx, baseSQL+` AND c.ticker = $1`, ticker)
	} else {
		rows, err = s.Pool.Query(ctx, baseSQL)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []missingInstrument
	for rows.Next() {
		var m missingInstrument
		if err := rows.Scan(&m.ID, &m.Name, &m.Ticker, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// findOutstandingFor returns the raw outstanding figure the scoped
// extraction reported for the instrument named name, matched by
// case/punctuation-normalized name.
func findOutstandingFor(extraction *extract.CoreExtraction, name string) *int64 {
	want := extract.NormalizeName(name)
	for _, d := range extraction.DebtInstruments {
		if extract.NormalizeName(d.Name) == want && d.OutstandingRaw != nil {
			return d.OutstandingRaw
		}
	}
	return nil
}

func applyBackfill(ctx context.Context, s *store.Store, instrumentID uuid.UUID, cents int64) error {
	const sql = `UPDATE debt_instruments SET outstanding_cents = $2,
		attributes = attributes || jsonb_build_object('amount_cleared', true)
		WHERE id = $1`
	_, err := s.Pool.Exec(ctx, sql, instrumentID, cents)
	return err
}

func init() {
	rootCmd.AddCommand(backfillAmountsCmd)
	backfillAmountsCmd.Flags().StringVar(&backfillTicker, "ticker", "", "restrict to this ticker")
	backfillAmountsCmd.Flags().BoolVar(&backfillAllMissing, "all-missing", false, "scan every company for missing outstanding amounts")
}
