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

	"github.com/debtstack/debtstack/internal/graph"
	"github.com/debtstack/debtstack/internal/llm"
	"github.com/debtstack/debtstack/internal/xerrors"
)

const guaranteePromptSystem = `You are extracting guarantee relationships from an indenture or credit agreement excerpt.
For each debt instrument, list which entities guarantee it and under what conditions (e.g. "so long
as it is a restricted subsidiary"). Respond with a single JSON object: {"guarantees": [...]}.`

// GuaranteeExtractor runs the guarantee pass: Exhibit 22 first (tagged
// verified), then LLM parsing of indentures/credit agreements (tagged
// extracted), deduplicated by (instrument, guarantor).
type GuaranteeExtractor struct {
	Client *llm.Client
}

func NewGuaranteeExtractor(c *llm.Client) *GuaranteeExtractor {
	return &GuaranteeExtractor{Client: c}
}

// Tagged pairs a candidate guarantee with the confidence tag its source earns.
type Tagged struct {
	Guarantee  CandidateGuarantee
	Confidence graph.GuaranteeConfidence
}

// ParseExhibit22 extracts the guarantor list from Exhibit 22 text; a
// simpler, high-confidence source than LLM parsing since Exhibit 22 is
// required to be an explicit list of guarantor subsidiaries.
func ParseExhibit22(text string, instrumentNames []string) []Tagged {
	lines := strings.Split(text, "\n")
	var out []Tagged
	for _, raw := range lines {
		name := strings.TrimSpace(strings.SplitN(raw, "|", 2)[0])
		if name == "" || looksLikeHeader(name) || strings.Contains(strings.ToLower(name), "list of") {
			continue
		}
		for _, inst := range instrumentNames {
			out = append(out, Tagged{
				Guarantee:  CandidateGuarantee{InstrumentName: inst, GuarantorName: name},
				Confidence: graph.GuaranteeVerified,
			})
		}
	}
	return out
}

// ExtractFromText LLM-parses an indenture/credit-agreement excerpt for
// guarantee relationships, tagging the result "extracted" (lower confidence
// than an Exhibit 22 hit).
func (g *GuaranteeExtractor) ExtractFromText(ctx context.Context, text string) ([]Tagged, error) {
	resp, err := g.Client.Generate(ctx, 0, llm.ContentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: guaranteePromptSystem},
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
		Guarantees []CandidateGuarantee `json:"guarantees"`
	}
	if err := json.Unmarshal([]byte(clean), &decoded); err != nil {
		return nil, xerrors.LLMParse("guarantee json did not match expected shape", err)
	}

	out := make([]Tagged, 0, len(decoded.Guarantees))
	for _, gu := range decoded.Guarantees {
		out = append(out, Tagged{Guarantee: gu, Confidence: graph.GuaranteeExtracted})
	}
	return out, nil
}

// Dedup merges verified and extracted guarantees by (instrument, guarantor),
// preferring the higher-confidence (verified) tag when both sources agree.
func Dedup(all []Tagged) []Tagged {
	rank := map[graph.GuaranteeConfidence]int{
		graph.GuaranteeVerified:  3,
		graph.GuaranteeExtracted: 2,
		graph.GuaranteePartial:   1,
		graph.GuaranteeUnknown:   0,
	}

	best := map[string]Tagged{}
	for _, t := range all {
		key := strings.ToLower(t.Guarantee.InstrumentName) + "\x00" + strings.ToLower(t.Guarantee.GuarantorName)
		if cur, ok := best[key]; !ok || rank[t.Confidence] > rank[cur.Confidence] {
			best[key] = t
		}
	}

	out := make([]Tagged, 0, len(best))
	for _, t := range best {
		out = append(out, t)
	}
	return out
}
