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

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/orchestrator"
	"github.com/debtstack/debtstack/internal/store"
)

var (
	extractTicker string
	extractCIK    string
	extractAll    bool
	extractForce  bool
	extractResume bool
	extractStep   string
)

// stepAliases maps the CLI-facing step names from `--step` to the
// orchestrator's internal step constants, since the operator-facing
// vocabulary ("financials", "documents") doesn't match the pipeline's
// internal step names one-for-one.
var stepAliases = map[string]string{
	"core":       orchestrator.StepCore,
	"financials": orchestrator.StepFinancial,
	"hierarchy":  orchestrator.StepHierarchy,
	"guarantees": orchestrator.StepGuarantee,
	"collateral": orchestrator.StepCollateral,
	"documents":  orchestrator.StepLink,
	"covenants":  orchestrator.StepCovenant,
	"metrics":    orchestrator.StepMetrics,
	"link":       orchestrator.StepLink,
	"cache":      orchestrator.StepFetch,
}

// extractCmd represents the extract command.
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run the credit-data extraction pipeline for one or more companies",
	Long: `extract fetches the most recent TTM window of 10-K/10-Q filings for
each company, segments and extracts debt-structure data, runs the QA pass
and bounded fix loop, and merges the result into the credit graph.

A company already at or above the QA pass threshold is skipped unless
--force or --step is given. --resume skips every step whose last recorded
status is success or no_data, and skips a company outright when every step
is in that state. --step restricts execution to a single named step.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !extractAll && extractTicker == "" {
			log.Error().Msg("provide --ticker, or pass --all")
			os.Exit(3)
		}

		var steps []string
		if extractStep != "" {
			mapped, ok := stepAliases[extractStep]
			if !ok {
				log.Error().Str("step", extractStep).Msg("unrecognized --step value")
				os.Exit(3)
			}
			steps = []string{mapped}
		}

		ctx := context.Background()

		s, err := store.Open(ctx, config.DBUrl())
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to the graph database")
		}
		defer s.Close()

		if err := s.EnsureFinancialsPartitions(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not ensure company_financials partitions")
		}

		pipeline := orchestrator.New(s)
		opts := orchestrator.Options{Steps: steps, Force: extractForce, Resume: extractResume}

		var tickers []string
		if extractAll {
			all, err := tickersFromDB(ctx, s)
			if err != nil {
				log.Fatal().Err(err).Msg("could not load tickers for --all")
			}
			tickers = all
		} else {
			tickers = []string{extractTicker}
		}

		summary := pipeline.RunAll(ctx, tickers, opts)

		log.Info().
			Int("succeeded", summary.SucceededCount()).
			Int("failed", summary.FailedCount()).
			Str("duration", summary.EndTime.Sub(summary.StartTime).String()).
			Msg("extraction run complete")

		fmt.Println(renderRunSummary(summary))

		anyPermanent := false
		anyTransient := false
		for _, r := range summary.Results {
			fetchLogger := log.With().Str("ticker", r.Ticker).Logger()
			fetchLogger.Info().
				Str("status", r.Status).
				Int("qa_score", r.QAScore).
				Str("reason", r.Reason).
				Msg("company run finished")

			switch r.Status {
			case "error":
				anyPermanent = true
			case "cancelled":
				anyTransient = true
			}
		}

		switch {
		case anyPermanent:
			os.Exit(2)
		case anyTransient:
			os.Exit(1)
		}
	},
}

// renderRunSummary draws the per-company status table operators see at the
// end of a batch run, in a bordered-box lipgloss layout.
func renderRunSummary(summary orchestrator.RunSummary) string {
	keyword := func(s string) string {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Render(s)
	}
	statusColor := func(status string) string {
		color := "240"
		switch status {
		case "success":
			color = "42"
		case "error", "cancelled":
			color = "196"
		case "no_data", "skipped":
			color = "214"
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(status)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nCompanies: %s  Succeeded: %s  Failed: %s  Duration: %s\n\n",
		lipgloss.NewStyle().Bold(true).Render("EXTRACTION RUN SUMMARY"),
		keyword(fmt.Sprintf("%d", len(summary.Results))),
		keyword(fmt.Sprintf("%d", summary.SucceededCount())),
		keyword(fmt.Sprintf("%d", summary.FailedCount())),
		keyword(summary.EndTime.Sub(summary.StartTime).String()),
	)

	for _, r := range summary.Results {
		fmt.Fprintf(&sb, "%-8s %-12s qa=%-3d cost=$%-7.4f %s\n",
			r.Ticker, statusColor(r.Status), r.QAScore, r.CostUSD, r.Reason)
	}

	return lipgloss.NewStyle().
		Width(72).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(1, 2).
		Render(strings.TrimRight(sb.String(), "\n"))
}

// tickersFromDB returns every ticker already registered in the companies
// table, for `--all` re-runs over a previously-seeded database.
func tickersFromDB(ctx context.Context, s *store.Store) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT ticker FROM companies ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVar(&extractTicker, "ticker", "", "ticker to extract")
	extractCmd.Flags().StringVar(&extractCIK, "cik", "", "CIK hint, skipping ticker->CIK resolution (reserved, resolved automatically otherwise)")
	extractCmd.Flags().BoolVar(&extractAll, "all", false, "run every ticker already registered in the database")
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "ignore skip logic and delete the company's cached step results before running")
	extractCmd.Flags().BoolVar(&extractResume, "resume", false, "skip steps whose last recorded status is success or no_data")
	extractCmd.Flags().StringVar(&extractStep, "step", "", "restrict to a single step (core, financials, hierarchy, guarantees, collateral, documents, covenants, metrics, link, cache)")
}
