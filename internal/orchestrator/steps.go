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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	json "github.com/goccy/go-json"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/extract"
	"github.com/debtstack/debtstack/internal/fixplan"
	"github.com/debtstack/debtstack/internal/graph"
	"github.com/debtstack/debtstack/internal/linker"
	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/metrics"
	"github.com/debtstack/debtstack/internal/qa"
	"github.com/debtstack/debtstack/internal/scale"
	"github.com/debtstack/debtstack/internal/secdata"
	"github.com/debtstack/debtstack/internal/segment"
	"github.com/debtstack/debtstack/internal/xerrors"
)

// companyRun carries the working state threaded through one company's step
// sequence, long-lived across steps rather than scoped to a single fetch.
type companyRun struct {
	ticker    string
	companyID uuid.UUID
	logger    zerolog.Logger

	// llm is per-run rather than shared so Usage() accounts for exactly
	// this company's calls even when companies run concurrently.
	llm *llm.Client

	existing existingData
	opts     Options

	filings  []secdata.Filing
	sections []segment.Section
	scales   []scale.Result

	bundle          string
	exhibit21Text   string
	exhibit22Text   string
	debtFootnote    string
	statementTexts  []statementText
	governingDocs   []linker.Document

	core       *extract.CoreExtraction
	report     qa.Report
	entityID   map[string]uuid.UUID // normalized name -> merged entity id
	instrumentID map[string]uuid.UUID

	periods     []graph.CompanyFinancials
	guarantees  []extract.Tagged
	collateral  []extract.CandidateCollateral
	covenants   []extract.CandidateCovenant

	// mergedSections holds document_sections rows as persisted by stepMerge
	// (real ids assigned), so stepLink, which runs after stepMerge, can
	// resolve links against rows that actually exist.
	mergedSections []graph.DocumentSection

	stepStatus map[string]graph.StepStatus
}

type statementText struct {
	text       string
	sourceURL  string
	filingDate time.Time
}

// RunOne runs one company's full step sequence (or the subset named in
// opts.Steps), honoring skip/resume/force semantics and serializing against
// other processes via the per-company advisory lock.
func (p *Pipeline) RunOne(ctx context.Context, ticker string, opts Options) CompanyResult {
	result := CompanyResult{Ticker: ticker, StartTime: time.Now(), StepTiming: map[string]time.Duration{}}
	run := &companyRun{
		ticker:       ticker,
		logger:       log.With().Str("ticker", ticker).Logger(),
		llm:          llm.NewClient(),
		opts:         opts,
		entityID:     map[string]uuid.UUID{},
		instrumentID: map[string]uuid.UUID{},
		stepStatus:   map[string]graph.StepStatus{},
	}
	ctx = run.logger.WithContext(ctx)

	company := &graph.Company{Ticker: ticker}
	if cik, legalName, err := p.SEC.ResolveCIK(ctx, ticker); err == nil {
		company.CIK = cik
		company.LegalName = legalName
	} else {
		run.logger.Warn().Err(err).Msg("CIK resolution failed, proceeding with ticker only")
	}

	companyID, err := p.Merger.EnsureCompany(ctx, company)
	if err != nil {
		result.Status = "error"
		result.Reason = err.Error()
		result.EndTime = time.Now()
		return result
	}
	run.companyID = companyID
	result.CompanyID = companyID

	lock, ok, err := p.Store.TryAcquireCompanyLock(ctx, companyID)
	if err != nil {
		result.Status = "error"
		result.Reason = err.Error()
		result.EndTime = time.Now()
		return result
	}
	if !ok {
		result.Status = "skipped"
		result.Reason = "another process holds this company's advisory lock"
		result.EndTime = time.Now()
		return result
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			run.logger.Warn().Err(err).Msg("failed to release company advisory lock")
		}
	}()

	if ex, err := p.detectExisting(ctx, companyID); err == nil {
		run.existing = ex
	} else {
		run.logger.Warn().Err(err).Msg("existing-data detection failed, skip rules disabled for this run")
	}

	if existing, found, err := p.Store.GetExtractionMetadata(ctx, companyID); err == nil && found {
		if !opts.Force && existing.QAScore >= config.QAPassThreshold() && !opts.wantSubset() {
			result.Status = "success"
			result.QAScore = existing.QAScore
			result.Reason = "already above qa_score threshold; use --force to re-run"
			result.EndTime = time.Now()
			return result
		}
	}

	if opts.Resume && !opts.wantSubset() && allStepsTerminal(run.existing.StepStatus) {
		result.Status = "skipped"
		result.Reason = "every step already in a terminal state"
		result.EndTime = time.Now()
		return result
	}

	if opts.Force {
		if err := p.Cache.Invalidate(ctx, companyID, AllSteps...); err != nil {
			run.logger.Warn().Err(err).Msg("cache invalidation failed, proceeding anyway")
		}
	}

	for _, step := range AllSteps {
		if !opts.wantStep(step) {
			continue
		}

		if skip, reason := shouldSkipStep(step, run.existing, opts, time.Now()); skip {
			// keep the prior recorded status so repeated skipped runs leave
			// the metadata row byte-identical.
			if prior, ok := run.existing.StepStatus[step]; ok {
				run.stepStatus[step] = prior
			} else {
				run.stepStatus[step] = graph.StepStatus{Status: "skipped", Reason: reason, At: time.Now()}
			}
			run.logger.Info().Str("step", step).Str("reason", reason).Msg("step skipped")
			continue
		}

		select {
		case <-ctx.Done():
			result.Status = "cancelled"
			result.Reason = ctx.Err().Error()
			run.stepStatus[step] = graph.StepStatus{Status: "error", Reason: "cancelled", At: time.Now()}
			p.saveMetadata(context.Background(), run, result)
			result.EndTime = time.Now()
			return result
		default:
		}

		stepStart := time.Now()
		err := p.runStep(ctx, run, step)
		result.StepTiming[step] = time.Since(stepStart)

		if err != nil {
			kind, _ := xerrors.KindOf(err)
			run.stepStatus[step] = graph.StepStatus{Status: "error", Reason: err.Error(), At: time.Now()}

			if xerrors.IsTerminal(kind) || kind == "" {
				result.Status = "error"
				result.Reason = err.Error()
				p.saveMetadata(ctx, run, result)
				result.EndTime = time.Now()
				return result
			}
			if kind == xerrors.NoData {
				run.stepStatus[step] = graph.StepStatus{Status: "no_data", Reason: err.Error(), At: time.Now()}
				run.logger.Info().Str("step", step).Msg("step reported no data, continuing")
				continue
			}
			run.logger.Warn().Err(err).Str("step", step).Msg("step failed non-fatally, continuing best-effort")
			continue
		}

		run.stepStatus[step] = graph.StepStatus{Status: "success", At: time.Now()}
	}

	result.QAScore = run.report.Score
	result.Status = "success"
	if run.report.Score > 0 && !run.report.Passed() {
		result.Status = "no_data"
		result.Reason = "qa score below pass threshold"
	}
	result.CostUSD = run.llm.Usage().CostUSD

	p.saveMetadata(ctx, run, result)
	result.EndTime = time.Now()
	return result
}

func (o Options) wantSubset() bool { return len(o.Steps) > 0 }

func (p *Pipeline) saveMetadata(ctx context.Context, run *companyRun, result CompanyResult) {
	meta := graph.ExtractionMetadata{
		CompanyID:        run.companyID,
		QAScore:          result.QAScore,
		ExtractionMethod: "llm_extraction",
		ExtractionStatus: run.stepStatus,
	}
	if run.core != nil {
		meta.Warnings = run.core.Warnings
	}
	if err := p.Store.SaveExtractionMetadata(ctx, meta); err != nil {
		run.logger.Error().Err(err).Msg("failed to save extraction metadata")
	}
}

// runStep dispatches to the step implementation. Each step stores its
// result in the extraction cache; whether a resumed run skips a step is
// decided by shouldSkipStep from the recorded step status, not from the
// cache.
func (p *Pipeline) runStep(ctx context.Context, run *companyRun, step string) error {
	switch step {
	case StepFetch:
		return p.stepFetch(ctx, run)
	case StepSegment:
		return p.stepSegment(ctx, run)
	case StepScale:
		return p.stepScale(ctx, run)
	case StepCore:
		return p.stepCore(ctx, run)
	case StepQA:
		return p.stepQA(ctx, run)
	case StepFixplan:
		return p.stepFixplan(ctx, run)
	case StepHierarchy:
		return p.stepHierarchy(ctx, run)
	case StepGuarantee:
		return p.stepGuarantee(ctx, run)
	case StepCollateral:
		return p.stepCollateral(ctx, run)
	case StepCovenant:
		return p.stepCovenant(ctx, run)
	case StepFinancial:
		return p.stepFinancial(ctx, run)
	case StepMetrics:
		return p.stepMetrics(ctx, run)
	case StepLink:
		return p.stepLink(ctx, run)
	case StepMerge:
		return p.stepMerge(ctx, run)
	default:
		return xerrors.FatalErr("unknown step", nil)
	}
}

func (p *Pipeline) stepFetch(ctx context.Context, run *companyRun) error {
	company, err := p.lookupCompany(ctx, run.companyID)
	if err != nil {
		return err
	}
	filings, err := p.SEC.MostRecentTTMWindow(ctx, company.CIK)
	if err != nil {
		return err
	}
	for i := range filings {
		if err := p.SEC.ResolveExhibitURLs(ctx, company.CIK, &filings[i]); err != nil {
			run.logger.Warn().Err(err).Msg("exhibit index resolution failed, continuing without exhibits")
		}
	}
	run.filings = filings
	return p.Cache.Put(ctx, run.companyID, StepFetch, filings)
}

func (p *Pipeline) stepSegment(ctx context.Context, run *companyRun) error {
	if len(run.filings) == 0 {
		return xerrors.NoDataErr("no filings to segment")
	}

	var allSections []segment.Section
	for _, f := range run.filings {
		raw, err := p.SEC.FetchDocument(ctx, f.PrimaryDocURL)
		if err != nil {
			run.logger.Warn().Err(err).Str("filing", f.AccessionNumber).Msg("document fetch failed, skipping filing")
			continue
		}
		cleaned := secdata.CleanHTML(raw)
		sections := segment.Segment(cleaned)
		allSections = append(allSections, sections...)

		run.statementTexts = append(run.statementTexts, statementText{
			text: cleaned, sourceURL: f.PrimaryDocURL, filingDate: f.FilingDate,
		})

		for code, url := range f.ExhibitURLs {
			exhibitRaw, err := p.SEC.FetchDocument(ctx, url)
			if err != nil {
				continue
			}
			cleanedExhibit := secdata.CleanHTML(exhibitRaw)
			allSections = append(allSections, segment.Segment(cleanedExhibit)...)
			if strings.HasPrefix(code, "EX-21") {
				run.exhibit21Text = cleanedExhibit
			}
			if strings.HasPrefix(code, "EX-22") {
				run.exhibit22Text = cleanedExhibit
			}
		}
	}

	if len(allSections) == 0 {
		return xerrors.NoDataErr("no sections matched in any filing")
	}
	run.sections = allSections

	for _, s := range allSections {
		if s.SectionType == graph.SectionExhibit21 && run.exhibit21Text == "" {
			run.exhibit21Text = s.Content
		}
		if s.SectionType == graph.SectionDebtFootnote && run.debtFootnote == "" {
			run.debtFootnote = s.Content
		}
	}

	return p.Cache.Put(ctx, run.companyID, StepSegment, allSections)
}

func (p *Pipeline) stepScale(ctx context.Context, run *companyRun) error {
	var results []scale.Result
	for _, st := range run.statementTexts {
		results = append(results, scale.Detect(st.text)...)
	}
	run.scales = results
	return p.Cache.Put(ctx, run.companyID, StepScale, results)
}

func (p *Pipeline) stepCore(ctx context.Context, run *companyRun) error {
	run.bundle = extract.AssembleBundle(run.sections, 60_000)
	if run.bundle == "" {
		return xerrors.NoDataErr("no relevant sections to assemble")
	}

	core, err := extract.NewCoreExtractor(run.llm).Extract(ctx, run.bundle, 0)
	if err != nil {
		return err
	}
	run.core = core
	return p.Cache.Put(ctx, run.companyID, StepCore, core)
}

func (p *Pipeline) stepQA(ctx context.Context, run *companyRun) error {
	if run.core == nil {
		return xerrors.NoDataErr("no core extraction to score")
	}
	report, err := qa.NewAgent(run.llm).Run(ctx, run.core, run.exhibit21Text, run.debtFootnote)
	if err != nil {
		return err
	}
	run.report = report
	return p.Cache.Put(ctx, run.companyID, StepQA, report)
}

func (p *Pipeline) stepFixplan(ctx context.Context, run *companyRun) error {
	if run.report.Passed() {
		return nil
	}
	outcome, err := fixplan.NewRunner(extract.NewCoreExtractor(run.llm), qa.NewAgent(run.llm)).
		Run(ctx, run.bundle, run.exhibit21Text, run.debtFootnote, run.core, run.report)
	if err != nil {
		return err
	}
	run.core = outcome.FinalExtraction
	run.report = outcome.FinalReport
	return p.Cache.Put(ctx, run.companyID, StepFixplan, outcome)
}

func (p *Pipeline) stepHierarchy(ctx context.Context, run *companyRun) error {
	if run.exhibit21Text == "" {
		return xerrors.NoDataErr("no exhibit 21 text available")
	}
	entities := extract.ParseExhibit21(run.exhibit21Text)

	var orphans []string
	roster := make([]string, 0, len(entities))
	for _, e := range entities {
		roster = append(roster, e.Name)
		if e.ParentName == "" && !e.IsRoot {
			orphans = append(orphans, e.Name)
		}
	}
	if len(orphans) > 0 {
		filled, err := extract.NewHierarchyExtractor(run.llm).FillOrphans(ctx, orphans, roster)
		if err == nil {
			entities = mergeEntityFills(entities, filled)
		}
	}

	if run.core == nil {
		run.core = &extract.CoreExtraction{}
	}
	entities = append(entities, run.core.Entities...)
	run.core.Entities = dedupeEntities(entities)
	return p.Cache.Put(ctx, run.companyID, StepHierarchy, run.core.Entities)
}

func (p *Pipeline) stepGuarantee(ctx context.Context, run *companyRun) error {
	var instrumentNames []string
	if run.core != nil {
		for _, d := range run.core.DebtInstruments {
			instrumentNames = append(instrumentNames, d.Name)
		}
	}

	var tagged []extract.Tagged
	if run.exhibit22Text != "" {
		tagged = append(tagged, extract.ParseExhibit22(run.exhibit22Text, instrumentNames)...)
	}
	if run.debtFootnote != "" {
		fromText, err := extract.NewGuaranteeExtractor(run.llm).ExtractFromText(ctx, run.debtFootnote)
		if err == nil {
			tagged = append(tagged, fromText...)
		}
	}
	deduped := extract.Dedup(tagged)
	run.guarantees = deduped
	return p.Cache.Put(ctx, run.companyID, StepGuarantee, deduped)
}

func (p *Pipeline) stepCollateral(ctx context.Context, run *companyRun) error {
	if run.debtFootnote == "" {
		return xerrors.NoDataErr("no debt footnote to extract collateral from")
	}
	candidates, err := extract.NewCollateralExtractor(run.llm).Extract(ctx, run.debtFootnote)
	if err != nil {
		return err
	}
	run.collateral = candidates
	return p.Cache.Put(ctx, run.companyID, StepCollateral, candidates)
}

func (p *Pipeline) stepCovenant(ctx context.Context, run *companyRun) error {
	var governingText string
	for _, s := range run.sections {
		if s.SectionType == graph.SectionCreditAgreement || s.SectionType == graph.SectionIndenture {
			governingText += s.Content + "\n"
		}
	}
	if governingText == "" {
		return xerrors.NoDataErr("no credit agreement or indenture text to extract covenants from")
	}
	candidates, err := extract.NewCovenantExtractor(run.llm).Extract(ctx, governingText)
	if err != nil {
		return err
	}
	run.covenants = candidates
	return p.Cache.Put(ctx, run.companyID, StepCovenant, candidates)
}

func (p *Pipeline) stepFinancial(ctx context.Context, run *companyRun) error {
	var periods []graph.CompanyFinancials
	for _, st := range run.statementTexts {
		// scale is re-detected per filing rather than taken from the first
		// filing's result, since each 10-K/10-Q states its own units.
		scales := scale.Detect(st.text)
		period, err := extract.NewFinancialExtractor(run.llm).ExtractPeriod(ctx, run.companyID.String(), st.text, scales, st.sourceURL, st.filingDate)
		if err != nil {
			run.logger.Warn().Err(err).Msg("financial extraction failed for one filing, continuing")
			continue
		}
		periods = append(periods, *period)
	}
	run.periods = periods
	return p.Cache.Put(ctx, run.companyID, StepFinancial, periods)
}

func (p *Pipeline) stepMetrics(ctx context.Context, run *companyRun) error {
	instruments := run.resolvedInstruments()
	result := metrics.Compute(instruments, run.periods, time.Now())
	if err := p.saveMetricSnapshot(ctx, run.companyID, result); err != nil {
		return err
	}
	return p.Cache.Put(ctx, run.companyID, StepMetrics, result)
}

// saveMetricSnapshot appends one row to metric_snapshots; snapshots are
// append-only so metric history survives recomputation.
func (p *Pipeline) saveMetricSnapshot(ctx context.Context, companyID uuid.UUID, r metrics.Result) error {
	warnings, err := json.Marshal(r.Warnings)
	if err != nil {
		return err
	}
	sources, err := json.Marshal(r.ProvenanceFilingURLs)
	if err != nil {
		return err
	}

	const sql = `INSERT INTO metric_snapshots
	("id", "company_id", "debt_due_1yr_cents", "debt_due_2yr_cents", "debt_due_3yr_cents",
	 "weighted_avg_maturity_years", "has_near_term_maturity", "ttm_ebitda_cents",
	 "leverage_ratio", "net_leverage_ratio", "interest_coverage_ratio", "is_leveraged",
	 "warnings", "computed_at", "source_filings")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);`

	_, err = p.Store.Pool.Exec(ctx, sql, uuid.New(), companyID,
		r.Maturity0to12Cents, r.Maturity12to24Cents, r.Maturity24to36Cents,
		r.WeightedAvgMaturityYears, r.HasNearTermMaturity, r.TTMEBITDACents,
		r.LeverageRatio, r.NetLeverageRatio, r.InterestCoverage, r.IsLeveraged,
		warnings, r.ComputedAt, sources)
	return err
}

func (p *Pipeline) stepLink(ctx context.Context, run *companyRun) error {
	if len(run.mergedSections) == 0 {
		return xerrors.NoDataErr("no persisted document sections to link against")
	}

	var docs []linker.Document
	sectionType := map[uuid.UUID]graph.SectionType{}
	for _, s := range run.mergedSections {
		docs = append(docs, linker.Document{Section: s, Text: s.Content})
		sectionType[s.ID] = s.SectionType
	}
	run.governingDocs = docs

	instruments := run.resolvedInstruments()
	p.EnrichIdentifiers(ctx, instruments)

	var links []linker.Link
	var governedByAgreement []uuid.UUID
	for _, inst := range instruments {
		if inst.ID == uuid.Nil {
			continue
		}
		link, ok := linker.Resolve(inst, docs)
		if !ok {
			continue
		}
		links = append(links, link)
		docLink := graph.DocumentLink{
			DebtInstrumentID:  link.DebtInstrumentID,
			DocumentSectionID: link.DocumentSectionID,
			RelationshipType:  link.RelationshipType,
			Confidence:        link.Confidence,
			MatchMethod:       link.MatchMethod,
		}
		if err := p.Merger.UpsertDocumentLink(ctx, &docLink); err != nil {
			run.logger.Warn().Err(err).Str("instrument", inst.Name).Msg("document link merge failed")
		}
		if link.RelationshipType == graph.RelationGoverns && sectionType[link.DocumentSectionID] == graph.SectionCreditAgreement {
			governedByAgreement = append(governedByAgreement, inst.ID)
		}
	}

	// Credit-agreement-level covenants were merged at company scope; here
	// they fan out onto every instrument the agreement governs.
	for _, fc := range extract.FanOutToInstruments(run.covenants, governedByAgreement) {
		instID := fc.InstrumentID
		covenant := &graph.Covenant{
			CompanyID:            run.companyID,
			DebtInstrumentID:     &instID,
			CovenantType:         graph.CovenantType(fc.Covenant.CovenantType),
			CovenantName:         fc.Covenant.CovenantName,
			TestMetric:           fc.Covenant.TestMetric,
			ThresholdValue:       fc.Covenant.ThresholdValue,
			ThresholdType:        graph.ThresholdType(fc.Covenant.ThresholdType),
			TestFrequency:        fc.Covenant.TestFrequency,
			Description:          fc.Covenant.Description,
			HasStepDown:          fc.Covenant.HasStepDown,
			CurePeriodDays:       fc.Covenant.CurePeriodDays,
			ExtractionConfidence: 0.8,
			SourceText:           fc.Covenant.SourceText,
		}
		if err := p.Merger.UpsertCovenant(ctx, covenant); err != nil {
			run.logger.Warn().Err(err).Str("covenant", fc.Covenant.CovenantName).Msg("fanned covenant merge failed")
		}
	}

	return p.Cache.Put(ctx, run.companyID, StepLink, links)
}

func (p *Pipeline) stepMerge(ctx context.Context, run *companyRun) error {
	if run.core == nil {
		return xerrors.NoDataErr("nothing to merge")
	}

	for i := range run.core.Entities {
		ce := run.core.Entities[i]
		entity := &graph.Entity{
			CompanyID:   run.companyID,
			Name:        ce.Name,
			Jurisdiction: ce.Jurisdiction,
			EntityType:  graph.EntityType(ce.EntityType),
			IsGuarantor: ce.IsGuarantor,
			IsRoot:      ce.IsRoot,
		}
		entity.Confidence = ce.Confidence
		if parentID, ok := run.entityID[extract.NormalizeName(ce.ParentName)]; ok {
			entity.ParentEntityID = &parentID
		}
		if err := p.Merger.UpsertEntity(ctx, entity); err != nil {
			run.logger.Error().Err(err).Str("entity", ce.Name).Msg("entity merge failed")
			continue
		}
		run.entityID[extract.NormalizeName(ce.Name)] = entity.ID
	}

	// Ownership links: a second pass over the same candidates, now that
	// every entity has a persisted id, resolving parent/child edges into
	// the ownership_links table. Only edges with an explicit direct/indirect
	// word (and therefore an evidence quote) are recorded; an unstated
	// relationship stays null rather than guessed, and ownership_links'
	// own CHECK constraint requires a quote whenever ownership_type is set.
	for _, ce := range run.core.Entities {
		if ce.OwnershipType == "" || ce.EvidenceQuote == "" {
			continue
		}
		childID, ok := run.entityID[extract.NormalizeName(ce.Name)]
		if !ok {
			continue
		}
		parentID, ok := run.entityID[extract.NormalizeName(ce.ParentName)]
		if !ok {
			continue
		}
		link := &graph.OwnershipLink{
			CompanyID:      run.companyID,
			ParentEntityID: parentID,
			ChildEntityID:  childID,
			OwnershipType:  graph.OwnershipType(ce.OwnershipType),
			EvidenceQuote:  ce.EvidenceQuote,
		}
		if err := p.Merger.UpsertOwnershipLink(ctx, link); err != nil {
			run.logger.Warn().Err(err).Str("child", ce.Name).Msg("ownership link merge failed")
		}
	}

	for i := range run.core.DebtInstruments {
		cd := run.core.DebtInstruments[i]
		issuerID, ok := run.entityID[extract.NormalizeName(cd.IssuerName)]
		if !ok {
			continue
		}
		inst := &graph.DebtInstrument{
			CompanyID:      run.companyID,
			IssuerEntityID: issuerID,
			Name:           cd.Name,
			Seniority:      graph.Seniority(cd.Seniority),
			SecurityType:   cd.SecurityType,
			IsFloating:     cd.IsFloating,
			Benchmark:      cd.Benchmark,
			IssueDate:      parseISODate(cd.IssueDate),
			MaturityDate:   parseISODate(cd.MaturityDate),
			PrincipalCents: applyScale(cd.PrincipalRaw, run.scales),
			IsActive:       true,
			CUSIP:          cd.CUSIP,
			ISIN:           cd.ISIN,
			Currency:       cd.Currency,
			Attributes:     instrumentAttributes(cd),
		}
		inst.Confidence = cd.Confidence
		if cd.InterestRatePct != nil {
			inst.InterestRateBps = int64(*cd.InterestRatePct * 100)
		}
		if cd.SpreadBps != nil {
			inst.SpreadBps = *cd.SpreadBps
		}
		if cd.OutstandingRaw != nil {
			outstanding := applyScale(cd.OutstandingRaw, run.scales)
			if !extract.PlausibleCents(outstanding) {
				run.logger.Warn().Str("instrument", cd.Name).Int64("cents", outstanding).Msg("outstanding amount outside plausibility band")
				inst.Attributes["implausible_amount"] = true
			}
			inst.OutstandingCents = &outstanding
		}
		if err := p.Merger.UpsertDebtInstrument(ctx, inst); err != nil {
			run.logger.Error().Err(err).Str("instrument", cd.Name).Msg("instrument merge failed")
			continue
		}
		run.instrumentID[extract.NormalizeName(cd.Name)] = inst.ID
	}

	for _, t := range run.guarantees {
		instID, ok := run.instrumentID[extract.NormalizeName(t.Guarantee.InstrumentName)]
		if !ok {
			continue
		}
		guarantorID, ok := run.entityID[extract.NormalizeName(t.Guarantee.GuarantorName)]
		if !ok {
			continue
		}
		g := &graph.Guarantee{
			CompanyID:         run.companyID,
			DebtInstrumentID:  instID,
			GuarantorEntityID: guarantorID,
			Conditions:        t.Guarantee.Conditions,
			Confidence:        t.Confidence,
		}
		if err := p.Merger.UpsertGuarantee(ctx, g); err != nil {
			run.logger.Warn().Err(err).Str("guarantor", t.Guarantee.GuarantorName).Msg("guarantee merge failed")
		}
	}

	for _, cc := range run.collateral {
		instID, ok := run.instrumentID[extract.NormalizeName(cc.InstrumentName)]
		if !ok {
			continue
		}
		var estimated *int64
		if cc.EstimatedValueRaw != nil {
			v := applyScale(cc.EstimatedValueRaw, run.scales)
			estimated = &v
		}
		for _, t := range cc.Types {
			c := &graph.Collateral{
				DebtInstrumentID:    instID,
				CollateralType:      graph.CollateralType(t),
				Description:         cc.Description,
				Priority:            graph.CollateralPriority(cc.Priority),
				EstimatedValueCents: estimated,
			}
			if err := p.Merger.UpsertCollateral(ctx, c); err != nil {
				run.logger.Warn().Err(err).Str("instrument", cc.InstrumentName).Msg("collateral merge failed")
			}
		}
	}

	// Every senior_secured instrument either has a collateral row or is
	// explicitly tagged unknown, never silently absent.
	for _, cd := range run.core.DebtInstruments {
		if graph.Seniority(cd.Seniority) != graph.SeniorSecured {
			continue
		}
		instID, ok := run.instrumentID[extract.NormalizeName(cd.Name)]
		if !ok {
			continue
		}
		if err := p.Merger.MarkCollateralUnknown(ctx, instID); err != nil {
			run.logger.Warn().Err(err).Str("instrument", cd.Name).Msg("collateral-unknown tag failed")
		}
	}

	for _, cv := range run.covenants {
		covenant := &graph.Covenant{
			CompanyID:            run.companyID,
			CovenantType:         graph.CovenantType(cv.CovenantType),
			CovenantName:         cv.CovenantName,
			TestMetric:           cv.TestMetric,
			ThresholdValue:       cv.ThresholdValue,
			ThresholdType:        graph.ThresholdType(cv.ThresholdType),
			TestFrequency:        cv.TestFrequency,
			Description:          cv.Description,
			HasStepDown:          cv.HasStepDown,
			CurePeriodDays:       cv.CurePeriodDays,
			ExtractionConfidence: 0.8,
			SourceText:           cv.SourceText,
		}
		if cv.InstrumentName != "" {
			if instID, ok := run.instrumentID[extract.NormalizeName(cv.InstrumentName)]; ok {
				covenant.DebtInstrumentID = &instID
			}
		}
		if err := p.Merger.UpsertCovenant(ctx, covenant); err != nil {
			run.logger.Warn().Err(err).Str("covenant", cv.CovenantName).Msg("covenant merge failed")
		}
	}

	for i := range run.periods {
		run.periods[i].CompanyID = run.companyID
		if err := p.Merger.UpsertCompanyFinancials(ctx, &run.periods[i]); err != nil {
			run.logger.Error().Err(err).Msg("financials merge failed")
		}
	}

	if run.existing.SectionCount > sectionSkipCount && !run.opts.Force {
		run.logger.Info().Int("existing", run.existing.SectionCount).Msg("document sections already persisted, skipping section merge")
		return nil
	}

	for i := range run.sections {
		s := &graph.DocumentSection{
			CompanyID:   run.companyID,
			SectionType: run.sections[i].SectionType,
			Title:       run.sections[i].Title,
			Content:     run.sections[i].Content,
			ContentLength: len(run.sections[i].Content),
			FilingDate:  time.Now(),
		}
		if err := p.Merger.UpsertDocumentSection(ctx, s); err != nil {
			run.logger.Warn().Err(err).Msg("document section merge failed")
			continue
		}
		run.mergedSections = append(run.mergedSections, *s)
	}

	return nil
}

func (run *companyRun) resolvedInstruments() []graph.DebtInstrument {
	if run.core == nil {
		return nil
	}
	out := make([]graph.DebtInstrument, 0, len(run.core.DebtInstruments))
	for _, cd := range run.core.DebtInstruments {
		inst := graph.DebtInstrument{
			ID:             run.instrumentID[extract.NormalizeName(cd.Name)],
			CompanyID:      run.companyID,
			Name:           cd.Name,
			Seniority:      graph.Seniority(cd.Seniority),
			IsFloating:     cd.IsFloating,
			IssueDate:      parseISODate(cd.IssueDate),
			MaturityDate:   parseISODate(cd.MaturityDate),
			CUSIP:          cd.CUSIP,
			ISIN:           cd.ISIN,
			IsActive:       true,
			PrincipalCents: applyScale(cd.PrincipalRaw, run.scales),
		}
		if cd.InterestRatePct != nil {
			inst.InterestRateBps = int64(*cd.InterestRatePct * 100)
		}
		if cd.OutstandingRaw != nil {
			outstanding := applyScale(cd.OutstandingRaw, run.scales)
			inst.OutstandingCents = &outstanding
		}
		out = append(out, inst)
	}
	return out
}

// instrumentAttributes builds the jsonb attribute map a candidate carries
// into the graph: the aggregate-only marker and any stated reason for a
// missing outstanding amount.
func instrumentAttributes(cd extract.CandidateDebtInstrument) map[string]any {
	attrs := map[string]any{}
	if cd.AggregateOnly {
		attrs["aggregate_only"] = true
	}
	if cd.OutstandingNullReason != "" {
		attrs["outstanding_null_reason"] = cd.OutstandingNullReason
	}
	return attrs
}

func parseISODate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func applyScale(raw *int64, scales []scale.Result) int64 {
	if raw == nil {
		return 0
	}
	if len(scales) == 0 {
		return scale.Result{Unit: scale.Dollars}.ToCents(*raw)
	}
	return scales[0].ToCents(*raw)
}

func mergeEntityFills(entities []extract.CandidateEntity, filled []extract.CandidateEntity) []extract.CandidateEntity {
	byName := map[string]int{}
	for i, e := range entities {
		byName[e.Name] = i
	}
	for _, f := range filled {
		if idx, ok := byName[f.Name]; ok {
			entities[idx].ParentName = f.ParentName
			entities[idx].OwnershipType = f.OwnershipType
			continue
		}
		entities = append(entities, f)
	}
	return entities
}

func dedupeEntities(entities []extract.CandidateEntity) []extract.CandidateEntity {
	seen := map[string]bool{}
	out := make([]extract.CandidateEntity, 0, len(entities))
	for _, e := range entities {
		key := extract.NormalizeName(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func (p *Pipeline) lookupCompany(ctx context.Context, companyID uuid.UUID) (*graph.Company, error) {
	const sql = `SELECT id, ticker, cik, legal_name, industry, sector FROM companies WHERE id = $1`
	row := p.Store.Pool.QueryRow(ctx, sql, companyID)
	c := &graph.Company{}
	if err := row.Scan(&c.ID, &c.Ticker, &c.CIK, &c.LegalName, &c.Industry, &c.Sector); err != nil {
		return nil, xerrors.FatalErr("company lookup failed", err)
	}
	return c, nil
}
