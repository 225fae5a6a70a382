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
package extract

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/graph"
	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/xerrors"
)

const collateralPromptSystem = `You are classifying collateral securing debt instruments in a SEC filing excerpt.
For each secured instrument, list the collateral_types using: real_estate, equipment, vehicles,
receivables, inventory, ip, cash, securities, subsidiary_stock, energy_assets, general_lien.
Prefer the most specific type the text supports. Respond with a single JSON object:
{"collateral": [...]}.`

// industrySignals maps asset-heavy industry vocabulary to the specific
// collateral type it should resolve to instead of falling back to
// general_lien when the text names an industry with an obvious asset class.
var industrySignals = []struct {
	keyword string
	ctype   graph.CollateralType
}{
	{"aircraft", graph.CollateralVehicles},
	{"vessel", graph.CollateralVehicles},
	{"ship", graph.CollateralVehicles},
	{"drilling rig", graph.CollateralEquipment},
	{"rig", graph.CollateralEquipment},
	{"spectrum license", graph.CollateralIP},
	{"fcc license", graph.CollateralIP},
	{"oil and gas reserves", graph.CollateralEnergyAssets},
	{"proved reserves", graph.CollateralEnergyAssets},
}

// CollateralExtractor classifies secured instruments into collateral types.
type CollateralExtractor struct {
	Client *llm.Client
}

func NewCollateralExtractor(c *llm.Client) *CollateralExtractor {
	return &CollateralExtractor{Client: c}
}

func (e *CollateralExtractor) Extract(ctx context.Context, text string) ([]CandidateCollateral, error) {
	resp, err := e.Client.Generate(ctx, 0, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: collateralPromptSystem},
			{Role: "user", Content: text},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	clean, err := llm.ExtractJSON(resp.Text)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Collateral []CandidateCollateral `json:"collateral"`
	}
	if err := json.Unmarshal([]byte(clean), &decoded); err != nil {
		return nil, xerrors.LLMParse("collateral json did not match expected shape", err)
	}

	for i := range decoded.Collateral {
		decoded.Collateral[i].Types = ResolveTypes(decoded.Collateral[i].Types, decoded.Collateral[i].Description, text)
	}

	return decoded.Collateral, nil
}

// ResolveTypes overrides any general_lien classification with a specific
// industry-signaled type found in description or the surrounding source
// text, never silently accepting general_lien when a better signal exists.
func ResolveTypes(types []string, description, context string) []string {
	hasOnlyGeneral := len(types) == 1 && types[0] == string(graph.CollateralGeneralLien)
	if !hasOnlyGeneral {
		return types
	}

	lower := strings.ToLower(description + " " + context)
	for _, sig := range industrySignals {
		if strings.Contains(lower, sig.keyword) {
			return []string{string(sig.ctype)}
		}
	}

	// configurable aliases catch collateral kinds outside the built-in
	// signal table (e.g. digital assets pledged under a credit agreement)
	// without a code change.
	for keyword, ctype := range config.CollateralAliases() {
		if strings.Contains(lower, keyword) {
			return []string{ctype}
		}
	}

	return types
}
