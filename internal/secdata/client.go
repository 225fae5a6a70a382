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
// Package secdata is the filing acquirer: given (ticker, CIK, form
// types) it returns filings with URLs, filing date, period of report, and
// exhibit URLs, fetched from the SEC EDGAR submissions API. Transport runs
// on resty and is paced with golang.org/x/time/rate.
package secdata

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/xerrors"
)

// Filing is one SEC submission, with exhibit URLs resolved by code.
type Filing struct {
	AccessionNumber string
	Form            string
	FilingDate      time.Time
	PeriodOfReport  time.Time
	PrimaryDocURL   string
	ExhibitURLs     map[string]string // exhibit code prefix ("EX-21", "EX-22", "EX-4", "EX-10") -> URL
}

// Client fetches filings by CIK from data.sec.gov.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	baseURL string
}

func NewClient() *Client {
	return &Client{
		http: resty.New().
			SetTimeout(config.HTTPTimeout()).
			SetHeader("User-Agent", config.SECUserAgent()).
			SetHeader("Accept-Encoding", "gzip"),
		limiter: rate.NewLimiter(rate.Limit(config.SECRateLimit()), 1),
		baseURL: config.SECBaseURL(),
	}
}

type companySubmissions struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent map[string][]any `json:"recent"`
		Files  []struct {
			Name string `json:"name"`
		} `json:"files"`
	} `json:"filings"`
}

// FetchFilings returns filings for cik matching any of formTypes, newest
// first, filtered by periodOfReport within [since, until]; never by
// filing date.
func (c *Client) FetchFilings(ctx context.Context, cik string, formTypes []string, since, until time.Time) ([]Filing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, xerrors.Transient("rate limiter wait cancelled", err)
	}

	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.baseURL, pad10(cik))

	var sub companySubmissions
	resp, err := c.http.R().SetContext(ctx).SetResult(&sub).Get(url)
	if err != nil {
		return nil, xerrors.Transient("sec submissions fetch failed", err)
	}
	if resp.StatusCode() == 404 {
		return nil, xerrors.NoDataErr(fmt.Sprintf("no submissions found for CIK %s", cik))
	}
	if resp.StatusCode() >= 500 {
		return nil, xerrors.Transient("sec server error", fmt.Errorf("status %d", resp.StatusCode()))
	}
	if resp.StatusCode() >= 400 {
		return nil, xerrors.FatalErr("sec request rejected", fmt.Errorf("status %d", resp.StatusCode()))
	}

	all := parseFilings(sub.Filings.Recent)

	wanted := map[string]bool{}
	for _, f := range formTypes {
		wanted[f] = true
	}

	out := make([]Filing, 0, len(all))
	for _, f := range all {
		if len(wanted) > 0 && !wanted[f.Form] {
			continue
		}
		if !since.IsZero() && f.PeriodOfReport.Before(since) {
			continue
		}
		if !until.IsZero() && f.PeriodOfReport.After(until) {
			continue
		}
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodOfReport.After(out[j].PeriodOfReport)
	})

	if len(out) == 0 {
		return nil, xerrors.NoDataErr("no filings matched the requested form types and window")
	}

	return out, nil
}

// MostRecentTTMWindow returns the latest 10-K plus the three most recent
// 10-Qs, ordered by periodOfReport descending.
func (c *Client) MostRecentTTMWindow(ctx context.Context, cik string) ([]Filing, error) {
	tenKs, err := c.FetchFilings(ctx, cik, []string{"10-K"}, time.Time{}, time.Time{})
	if err != nil {
		if k, ok := xerrors.KindOf(err); !ok || k != xerrors.NoData {
			return nil, err
		}
	}
	tenQs, err := c.FetchFilings(ctx, cik, []string{"10-Q"}, time.Time{}, time.Time{})
	if err != nil {
		if k, ok := xerrors.KindOf(err); !ok || k != xerrors.NoData {
			return nil, err
		}
	}

	out := make([]Filing, 0, 4)
	if len(tenKs) > 0 {
		out = append(out, tenKs[0])
	}
	for i := 0; i < len(tenQs) && i < 3; i++ {
		out = append(out, tenQs[i])
	}

	if len(out) == 0 {
		return nil, xerrors.NoDataErr("no 10-K or 10-Q filings available for TTM window")
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodOfReport.After(out[j].PeriodOfReport)
	})

	return out, nil
}

// tickerEntry is one row of SEC's company_tickers.json, keyed numerically
// in the source but indexed here by ticker for lookup.
type tickerEntry struct {
	CIK    int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// ResolveCIK maps a ticker to its zero-padded CIK and registrant name using
// SEC's published company_tickers.json static mapping file.
func (c *Client) ResolveCIK(ctx context.Context, ticker string) (cik string, legalName string, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", xerrors.Transient("rate limiter wait cancelled", err)
	}

	var entries map[string]tickerEntry
	resp, err := c.http.R().SetContext(ctx).SetResult(&entries).
		Get("https://www.sec.gov/files/company_tickers.json")
	if err != nil {
		return "", "", xerrors.Transient("ticker mapping fetch failed", err)
	}
	if resp.StatusCode() >= 400 {
		return "", "", xerrors.FatalErr("ticker mapping request rejected", fmt.Errorf("status %d", resp.StatusCode()))
	}

	want := strings.ToUpper(ticker)
	for _, e := range entries {
		if strings.ToUpper(e.Ticker) == want {
			return pad10(strconv.Itoa(e.CIK)), e.Title, nil
		}
	}
	return "", "", xerrors.NoDataErr(fmt.Sprintf("ticker %q not found in SEC company index", ticker))
}

type filingIndex struct {
	Directory struct {
		Item []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"item"`
	} `json:"directory"`
}

// exhibitCodePrefixes maps the SEC "type" field on an index.json item to the
// exhibit code keys callers look up in Filing.ExhibitURLs.
var exhibitCodePrefixes = []string{"EX-21", "EX-22", "EX-4", "EX-10"}

// ResolveExhibitURLs fills f.ExhibitURLs by fetching the accession's
// filing-index JSON and matching each item's declared exhibit type; the
// submissions endpoint used by FetchFilings lists forms but not their
// individual exhibit documents, so a second lookup per filing is required.
func (c *Client) ResolveExhibitURLs(ctx context.Context, cik string, f *Filing) error {
	accessionNoDashes := stripDashes(f.AccessionNumber)
	indexURL := fmt.Sprintf("https://www.sec.gov/cgi-bin/browse-edgar/Archives/edgar/data/%s/%s/index.json",
		pad10(cik), accessionNoDashes)

	if err := c.limiter.Wait(ctx); err != nil {
		return xerrors.Transient("rate limiter wait cancelled", err)
	}

	var idx filingIndex
	resp, err := c.http.R().SetContext(ctx).SetResult(&idx).Get(indexURL)
	if err != nil {
		return xerrors.Transient("sec filing index fetch failed", err)
	}
	if resp.StatusCode() >= 400 {
		return xerrors.NoDataErr(fmt.Sprintf("no filing index at %s", indexURL))
	}

	if f.ExhibitURLs == nil {
		f.ExhibitURLs = map[string]string{}
	}
	for _, item := range idx.Directory.Item {
		for _, prefix := range exhibitCodePrefixes {
			if strings.HasPrefix(strings.ToUpper(item.Type), prefix) {
				f.ExhibitURLs[prefix] = fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s/%s",
					accessionNoDashes, accessionNoDashes, item.Name)
			}
		}
	}
	return nil
}

// FetchDocument downloads the raw body at url (a filing's primary document
// or exhibit URL), rate-limited the same as the submissions endpoint since
// both live under sec.gov's fair-access policy.
func (c *Client) FetchDocument(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", xerrors.Transient("rate limiter wait cancelled", err)
	}

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", xerrors.Transient("sec document fetch failed", err)
	}
	if resp.StatusCode() == 404 {
		return "", xerrors.NoDataErr(fmt.Sprintf("document not found at %s", url))
	}
	if resp.StatusCode() >= 500 {
		return "", xerrors.Transient("sec server error", fmt.Errorf("status %d", resp.StatusCode()))
	}
	if resp.StatusCode() >= 400 {
		return "", xerrors.FatalErr("sec request rejected", fmt.Errorf("status %d", resp.StatusCode()))
	}

	return string(resp.Body()), nil
}

func parseFilings(recent map[string][]any) []Filing {
	accession := recent["accessionNumber"]
	if len(accession) == 0 {
		return nil
	}

	forms := recent["form"]
	filingDates := recent["filingDate"]
	reportDates := recent["reportDate"]
	primaryDocs := recent["primaryDocument"]

	out := make([]Filing, 0, len(accession))
	for i := range accession {
		f := Filing{
			AccessionNumber: toString(accession[i]),
			Form:            atIndex(forms, i),
			FilingDate:      parseDate(atIndex(filingDates, i)),
			PeriodOfReport:  parseDate(atIndex(reportDates, i)),
			ExhibitURLs:     map[string]string{},
		}
		accessionNoDashes := stripDashes(f.AccessionNumber)
		if doc := atIndex(primaryDocs, i); doc != "" {
			f.PrimaryDocURL = fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s/%s",
				accessionNoDashes, accessionNoDashes, doc)
		}
		out = append(out, f)
	}
	return out
}

func atIndex(arr []any, i int) string {
	if i >= len(arr) {
		return ""
	}
	return toString(arr[i])
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', 0, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func stripDashes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func pad10(cik string) string {
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}
