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
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/store"
)

var (
	fixExcessAll    bool
	fixExcessDryRun bool
)

// fixExcessCmd represents the fix-excess command.
var fixExcessCmd = &cobra.Command{
	Use:   "fix-excess",
	Short: "Deactivate matured instruments, dedupe, and clear LLM-identified aggregates",
	Long: `fix-excess sweeps the credit graph for three kinds of stale rows: debt
instruments past their maturity date that are still marked active, duplicate
instruments sharing the same issuer and normalized name, and instruments
still flagged aggregate_only that have since had an outstanding amount
backfilled. --dry-run reports what would change without writing.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !fixExcessAll {
			log.Error().Msg("pass --fix-all-excess to run the sweep")
			os.Exit(3)
		}

		ctx := context.Background()
		s, err := store.Open(ctx, config.DBUrl())
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to the graph database")
		}
		defer s.Close()

		matured, err := sweepMaturedBonds(ctx, s, fixExcessDryRun)
		if err != nil {
			log.Fatal().Err(err).Msg("matured bond sweep failed")
		}
		log.Info().Int("count", matured).Bool("dry_run", fixExcessDryRun).Msg("matured instruments deactivated")

		deduped, err := sweepDuplicateInstruments(ctx, s, fixExcessDryRun)
		if err != nil {
			log.Fatal().Err(err).Msg("duplicate instrument sweep failed")
		}
		log.Info().Int("count", deduped).Bool("dry_run", fixExcessDryRun).Msg("duplicate instruments deactivated")

		cleared, err := clearResolvedAggregates(ctx, s, fixExcessDryRun)
		if err != nil {
			log.Fatal().Err(err).Msg("aggregate-clear sweep failed")
		}
		log.Info().Int("count", cleared).Bool("dry_run", fixExcessDryRun).Msg("aggregate_only flags cleared")
	},
}

// sweepMaturedBonds deactivates every active instrument whose maturity_date
// has passed; a matured bond is no longer outstanding debt regardless of
// whether an extraction pass ever revisits it.
func sweepMaturedBonds(ctx context.Context, s *store.Store, dryRun bool) (int, error) {
	if dryRun {
		const sql = `SELECT count(*) FROM debt_instruments
			WHERE is_active AND maturity_date IS NOT NULL AND maturity_date < now()`
		var n int
		err := s.Pool.QueryRow(ctx, sql).Scan(&n)
		return n, err
	}

	const sql = `UPDATE debt_instruments SET is_active = false,
		attributes = attributes || jsonb_build_object('deactivation_reason', 'matured')
		WHERE is_active AND maturity_date IS NOT NULL AND maturity_date < now()`
	tag, err := s.Pool.Exec(ctx, sql)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// sweepDuplicateInstruments deactivates every instrument past the first
// (by id) among a (company_id, issuer_entity_id, normalized name) group,
// tagging each deactivated row with deactivation_reason 'duplicate'.
func sweepDuplicateInstruments(ctx context.Context, s *store.Store, dryRun bool) (int, error) {
	const findSQL = `SELECT id FROM (
		SELECT id, row_number() OVER (
			PARTITION BY company_id, issuer_entity_id, lower(regexp_replace(name, '[^a-zA-Z0-9 ]', '', 'g'))
			ORDER BY id
		) AS rn
		FROM debt_instruments WHERE is_active
	) ranked WHERE rn > 1`

	rows, err := s.Pool.Query(ctx, findSQL)
	if err != nil {
		return 0, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if dryRun || len(ids) == 0 {
		return len(ids), nil
	}

	const updateSQL = `UPDATE debt_instruments SET is_active = false,
		attributes = attributes || jsonb_build_object('deactivation_reason', 'duplicate')
		WHERE id = ANY($1)`
	if _, err := s.Pool.Exec(ctx, updateSQL, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// clearResolvedAggregates drops the aggregate_only attribute from any
// instrument that has since had its outstanding amount backfilled; an
// aggregate_only instrument with a non-null outstanding_cents is no longer
// aggregate-only by definition.
func clearResolvedAggregates(ctx context.Context, s *store.Store, dryRun bool) (int, error) {
	const countSQL = `SELECT count(*) FROM debt_instruments
		WHERE attributes->>'aggregate_only' = 'true' AND outstanding_cents IS NOT NULL`
	if dryRun {
		var n int
		err := s.Pool.QueryRow(ctx, countSQL).Scan(&n)
		return n, err
	}

	const sql = `UPDATE debt_instruments SET attributes = attributes - 'aggregate_only'
		WHERE attributes->>'aggregate_only' = 'true' AND outstanding_cents IS NOT NULL`
	tag, err := s.Pool.Exec(ctx, sql)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func init() {
	rootCmd.AddCommand(fixExcessCmd)
	fixExcessCmd.Flags().BoolVar(&fixExcessAll, "fix-all-excess", false, "run the full sweep")
	fixExcessCmd.Flags().BoolVar(&fixExcessDryRun, "dry-run", false, "report what would change without writing")
}
