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

// Package figi enriches debt instruments that carry a CUSIP or ISIN but no
// resolved security identifier metadata, batching lookups against the
// OpenFIGI mapping API. The lookup key is CUSIP/ISIN and the enrichment
// target is a DebtInstrument.
package figi

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/debtstack/debtstack/internal/graph"
)

const mappingURL = "https://api.openfigi.com/v3/mapping"

// batchSize matches OpenFIGI's per-request mapping limit.
const batchSize = 100

type query struct {
	IDType  string `json:"idType"`
	IDValue string `json:"idValue"`
}

type asset struct {
	FIGI                string `json:"figi"`
	SecurityType        string `json:"securityType"`
	MarketSector        string `json:"marketSector"`
	Ticker              string `json:"ticker"`
	Name                string `json:"name"`
	SecurityDescription string `json:"securityDescription"`
}

type mappingResponse struct {
	Data []*asset `json:"data"`
}

// Lookup maps CUSIP/ISIN identifiers to the security name/description
// OpenFIGI returns, keyed by the identifier string, for instruments whose
// own filing text didn't name the security clearly enough for linking.
func Lookup(ctx context.Context, identifiers []string) map[string]*asset {
	limiter := rate.NewLimiter(rate.Every(time.Second*6/25), 10)
	client := resty.New()
	apiKey := viper.GetString("openfigi.apikey")

	result := make(map[string]*asset)
	for start := 0; start < len(identifiers); start += batchSize {
		end := start + batchSize
		if end > len(identifiers) {
			end = len(identifiers)
		}
		chunk := identifiers[start:end]

		if err := limiter.Wait(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("figi rate limiter wait failed")
			return result
		}

		queries := make([]query, 0, len(chunk))
		for _, id := range chunk {
			idType := "ID_CUSIP"
			if len(id) == 12 {
				idType = "ID_ISIN"
			}
			queries = append(queries, query{IDType: idType, IDValue: id})
		}

		var resp []mappingResponse
		httpResp, err := client.R().
			SetContext(ctx).
			SetHeader("X-OPENFIGI-APIKEY", apiKey).
			SetBody(queries).
			SetResult(&resp).
			Post(mappingURL)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("openfigi api call failed")
			continue
		}
		if httpResp.StatusCode() >= 400 {
			log.Ctx(ctx).Warn().Int("status", httpResp.StatusCode()).Msg("openfigi api returned an error status")
			continue
		}

		for i, r := range resp {
			if len(r.Data) == 0 {
				continue
			}
			result[chunk[i]] = r.Data[0]
		}
	}

	return result
}

// EnrichInstruments fills in a security description for instruments whose
// CUSIP/ISIN resolved via OpenFIGI but whose Name field is empty or a
// placeholder, without overwriting names already sourced from the filing.
func EnrichInstruments(ctx context.Context, instruments []graph.DebtInstrument) {
	var ids []string
	for _, inst := range instruments {
		id := inst.CUSIP
		if id == "" {
			id = inst.ISIN
		}
		if id != "" && inst.Name == "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}

	found := Lookup(ctx, ids)
	for i := range instruments {
		id := instruments[i].CUSIP
		if id == "" {
			id = instruments[i].ISIN
		}
		if a, ok := found[id]; ok && instruments[i].Name == "" {
			instruments[i].Name = a.SecurityDescription
		}
	}
}
