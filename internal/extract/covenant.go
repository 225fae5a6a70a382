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

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/xerrors"
)

const covenantPromptSystem = `You are extracting structured financial covenants from a credit agreement or indenture excerpt.
For each covenant, give covenant_type (financial, negative, incurrence, protective), covenant_name,
test_metric, threshold_value, threshold_type (maximum or minimum), test_frequency, whether it has a
step-down schedule, any cure period in days, and the verbatim source_text. Leave instrument_name empty
if the covenant applies at the credit-agreement/company level rather than to one named instrument.
Respond with a single JSON object: {"covenants": [...]}.`

// CovenantExtractor runs the covenant pass against the most recent document
// with relationship_type = "governs" for an instrument (or, for agreement-
// level covenants, the agreement document itself).
type CovenantExtractor struct {
	Client *llm.Client
}

func NewCovenantExtractor(c *llm.Client) *CovenantExtractor {
	return &CovenantExtractor{Client: c}
}

func (e *CovenantExtractor) Extract(ctx context.Context, governingDocText string) ([]CandidateCovenant, error) {
	resp, err := e.Client.Generate(ctx, 0, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: covenantPromptSystem},
			{Role: "user", Content: governingDocText},
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
		Covenants []CandidateCovenant `json:"covenants"`
	}
	if err := json.Unmarshal([]byte(clean), &decoded); err != nil {
		return nil, xerrors.LLMParse("covenant json did not match expected shape", err)
	}

	return decoded.Covenants, nil
}

// FannedCovenant is a company-scope covenant expanded onto one governed
// instrument.
type FannedCovenant struct {
	Covenant     CandidateCovenant
	InstrumentID uuid.UUID
}

// FanOutToInstruments expands credit-agreement-level covenants (those with
// no InstrumentName) onto every instrument whose governing document equals
// that agreement. Instrument-named covenants pass through unexpanded and are
// the caller's responsibility to resolve by name.
func FanOutToInstruments(covenants []CandidateCovenant, governedInstrumentIDs []uuid.UUID) []FannedCovenant {
	var out []FannedCovenant
	for _, c := range covenants {
		if c.InstrumentName != "" {
			continue
		}
		for _, id := range governedInstrumentIDs {
			out = append(out, FannedCovenant{Covenant: c, InstrumentID: id})
		}
	}
	return out
}
