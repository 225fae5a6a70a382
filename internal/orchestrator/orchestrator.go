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

// Package orchestrator is the pipeline orchestrator: it sequences
// every other component per company, from filing acquisition through
// graph merge, honoring skip/resume/force semantics and a bounded
// concurrency cap across companies. Concurrency and summary-building use a
// channel fan-in over a sync.WaitGroup with start/end timestamps, reported
// through a per-run summary; per-company serialization uses
// internal/store's advisory-lock wrapper.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/debtstack/debtstack/internal/cache"
	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/figi"
	"github.com/debtstack/debtstack/internal/graph"
	"github.com/debtstack/debtstack/internal/monitor"
	"github.com/debtstack/debtstack/internal/secdata"
	"github.com/debtstack/debtstack/internal/store"
)

// Step names double as extraction_cache keys and as ExtractionMetadata's
// per-step status map keys.
const (
	StepFetch      = "fetch"
	StepSegment    = "segment"
	StepScale      = "scale"
	StepCore       = "core_extract"
	StepQA         = "qa"
	StepFixplan    = "fixplan"
	StepHierarchy  = "hierarchy"
	StepGuarantee  = "guarantee"
	StepCollateral = "collateral"
	StepCovenant   = "covenant"
	StepFinancial  = "financial"
	StepMetrics    = "metrics"
	StepLink       = "link"
	StepMerge      = "merge"
)

// AllSteps is the full sequence, in execution order, that `--all`/no
// `--step` flag runs end to end. Merge runs before metrics/documents so the
// metric computer and document linker operate on persisted, id-bearing rows
// rather than in-memory candidates.
var AllSteps = []string{
	StepFetch, StepSegment, StepScale, StepCore, StepQA, StepFixplan,
	StepHierarchy, StepGuarantee, StepCollateral, StepCovenant,
	StepFinancial, StepMerge, StepMetrics, StepLink,
}

// Pipeline wires every component the orchestrator drives. The LLM client is
// deliberately absent: each company run constructs its own so usage
// accounting stays per-company.
type Pipeline struct {
	Store   *store.Store
	Merger  *graph.Merger
	SEC     *secdata.Client
	Cache   *cache.Cache
	Monitor *monitor.Monitor
}

// New builds a Pipeline from a live store, constructing every other
// component from package-level config per invocation.
func New(s *store.Store) *Pipeline {
	return &Pipeline{
		Store:   s,
		Merger:  &graph.Merger{Pool: s.Pool},
		SEC:     secdata.NewClient(),
		Cache:   cache.New(s),
		Monitor: monitor.New(config.MonitorSlug()),
	}
}

// Options configures one orchestrator invocation.
type Options struct {
	// Steps restricts execution to this subset, in AllSteps order; empty
	// means run every step.
	Steps []string
	// Force disables every skip rule, including the early exit for
	// companies already at qa_score >= threshold, and deletes the company's
	// cached results for every step before running; merged graph rows are
	// kept.
	Force bool
	// Resume skips every step whose last recorded status is terminal
	// (success or no_data), and the whole company when every step is.
	Resume bool
}

// CompanyResult is one company's run outcome.
type CompanyResult struct {
	Ticker     string
	CompanyID  uuid.UUID
	Status     string // success | no_data | error | skipped | cancelled
	Reason     string
	QAScore    int
	Escalated  bool
	CostUSD    float64
	StartTime  time.Time
	EndTime    time.Time
	StepTiming map[string]time.Duration
}

// RunSummary aggregates a batch run's per-run start/end bookkeeping.
type RunSummary struct {
	StartTime time.Time
	EndTime   time.Time
	Results   []CompanyResult
}

func (s RunSummary) SucceededCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == "success" {
			n++
		}
	}
	return n
}

func (s RunSummary) FailedCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == "error" {
			n++
		}
	}
	return n
}

// RunAll runs every ticker with bounded concurrency (config's
// orchestrator.max_concurrent_companies, default 1), fanning results into
// a single channel drained by one collector, deduplicating repeated tickers in the input list with an in-run set.
func (p *Pipeline) RunAll(ctx context.Context, tickers []string, opts Options) RunSummary {
	summary := RunSummary{StartTime: time.Now()}

	if err := p.Monitor.Start(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("monitor start ping failed")
	}

	seen := haxmap.New[string, bool]()
	sem := make(chan struct{}, config.MaxConcurrentCompanies())
	resultsChan := make(chan CompanyResult, len(tickers))

	var wg sync.WaitGroup
	for _, ticker := range tickers {
		if _, dup := seen.Get(ticker); dup {
			continue
		}
		seen.Set(ticker, true)

		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				resultsChan <- CompanyResult{Ticker: ticker, Status: "cancelled", Reason: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()

			resultsChan <- p.RunOne(ctx, ticker, opts)
		}(ticker)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for r := range resultsChan {
		summary.Results = append(summary.Results, r)
	}

	summary.EndTime = time.Now()

	if summary.FailedCount() > 0 {
		if err := p.Monitor.Fail(ctx, fmt.Sprintf("%d/%d companies failed", summary.FailedCount(), len(summary.Results))); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("monitor fail ping failed")
		}
	} else if err := p.Monitor.Success(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("monitor success ping failed")
	}

	return summary
}

// wantStep reports whether step should run under opts, defaulting to every
// step when Steps is empty.
func (o Options) wantStep(step string) bool {
	if len(o.Steps) == 0 {
		return true
	}
	for _, s := range o.Steps {
		if s == step {
			return true
		}
	}
	return false
}

// EnrichIdentifiers batch-resolves CUSIP/ISIN metadata for a company's
// debt instruments via OpenFIGI, called after the merge step commits so the
// lookup only covers rows that survived QA.
func (p *Pipeline) EnrichIdentifiers(ctx context.Context, instruments []graph.DebtInstrument) {
	figi.EnrichInstruments(ctx, instruments)
}
