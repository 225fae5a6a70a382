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
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/debtstack/debtstack/internal/graph"
)

// financialsRefreshLagDays is how long past a quarter end a 10-Q is
// realistically on file; re-extraction before that only re-reads the same
// filings.
const financialsRefreshLagDays = 60

// coreSkipEntityCount / coreSkipDebtCount gate re-running core extraction
// against a company whose graph is already well populated.
const (
	coreSkipEntityCount = 20
	coreSkipDebtCount   = 1
)

// sectionSkipCount gates re-persisting document sections for a company that
// already carries a full section set.
const sectionSkipCount = 5

// existingData is what the merger already holds for a company, consulted by
// the per-step skip rules before any network work is spent.
type existingData struct {
	EntityCount   int
	DebtCount     int
	SectionCount  int
	LatestQuarter *time.Time
	StepStatus    map[string]graph.StepStatus
}

func (p *Pipeline) detectExisting(ctx context.Context, companyID uuid.UUID) (existingData, error) {
	var ex existingData

	const sql = `SELECT
		(SELECT count(*) FROM entities WHERE company_id = $1),
		(SELECT count(*) FROM debt_instruments WHERE company_id = $1),
		(SELECT count(*) FROM document_sections WHERE company_id = $1)`
	if err := p.Store.Pool.QueryRow(ctx, sql, companyID).
		Scan(&ex.EntityCount, &ex.DebtCount, &ex.SectionCount); err != nil {
		return ex, err
	}

	meta, found, err := p.Store.GetExtractionMetadata(ctx, companyID)
	if err != nil {
		return ex, err
	}
	if found {
		ex.LatestQuarter = meta.LatestQuarter
		ex.StepStatus = meta.ExtractionStatus
	}
	return ex, nil
}

// shouldSkipStep applies the per-step skip rules against what the graph
// already holds. Force disables every rule; Resume additionally skips any
// step whose prior recorded status is terminal.
func shouldSkipStep(step string, ex existingData, opts Options, now time.Time) (bool, string) {
	if opts.Force {
		return false, ""
	}

	if opts.Resume {
		if st, ok := ex.StepStatus[step]; ok && terminalStatus(st.Status) {
			return true, "resume: prior status " + st.Status
		}
	}

	switch step {
	case StepCore, StepQA, StepFixplan:
		// QA and the fix loop score a fresh extraction; with core skipped
		// there is nothing for them to score.
		if ex.EntityCount > coreSkipEntityCount && ex.DebtCount >= coreSkipDebtCount {
			return true, fmt.Sprintf("graph already holds %d entities and %d instruments", ex.EntityCount, ex.DebtCount)
		}
	case StepFinancial:
		if ex.LatestQuarter != nil && now.Before(financialsRefreshDue(*ex.LatestQuarter)) {
			return true, "financials current through " + ex.LatestQuarter.Format("2006-01-02")
		}
	case StepHierarchy, StepGuarantee, StepCollateral, StepCovenant:
		if st, ok := ex.StepStatus[step]; ok && terminalStatus(st.Status) {
			return true, "prior status " + st.Status
		}
	}

	return false, ""
}

func terminalStatus(s string) bool {
	return s == "success" || s == "no_data"
}

// allStepsTerminal reports whether every pipeline step already carries a
// terminal status, letting `--all --resume` skip the company outright.
func allStepsTerminal(status map[string]graph.StepStatus) bool {
	if len(status) == 0 {
		return false
	}
	for _, step := range AllSteps {
		st, ok := status[step]
		if !ok || !terminalStatus(st.Status) {
			return false
		}
	}
	return true
}

// financialsRefreshDue is the earliest date re-extracting financials can
// find a newer quarter: the next quarter end after the stored latest
// quarter, plus the filing lag.
func financialsRefreshDue(latestQuarter time.Time) time.Time {
	return nextQuarterEnd(latestQuarter).AddDate(0, 0, financialsRefreshLagDays)
}

func nextQuarterEnd(after time.Time) time.Time {
	year := after.Year()
	ends := []time.Time{
		time.Date(year, time.March, 31, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.June, 30, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.September, 30, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
		time.Date(year+1, time.March, 31, 0, 0, 0, 0, time.UTC),
	}
	for _, e := range ends {
		if e.After(after) {
			return e
		}
	}
	return ends[len(ends)-1]
}
