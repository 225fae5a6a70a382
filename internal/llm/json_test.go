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
package llm

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/debtstack/debtstack/internal/xerrors"
)

// TestExtractJSON_Fixtures drives the repair pipeline across the malformed
// shapes models actually emit: every fixture must yield either a valid JSON
// string or an llm_parse_error, never anything in between.
func TestExtractJSON_Fixtures(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "clean object", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced block", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "fence without language tag", in: "```\n[1, 2]\n```", want: `[1, 2]`},
		{name: "leading prose", in: `Sure, here is the extraction: {"a": 1}`, want: `{"a": 1}`},
		{name: "trailing commentary", in: `{"a": 1} I hope that helps!`, want: `{"a": 1}`},
		{name: "trailing comma", in: `{"a": 1,}`, want: `{"a": 1}`},
		{name: "unquoted keys", in: `{entities: [], debt_instruments: []}`, want: `{"entities": [], "debt_instruments": []}`},
		{name: "brace inside string literal", in: `{"a": "b } c"}`, want: `{"a": "b } c"}`},
		{name: "no json at all", in: `I could not find any debt instruments.`, wantErr: true},
		{name: "hopelessly malformed", in: `{"a": [1, 2,, }`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := gomega.NewWithT(t)

			out, err := ExtractJSON(tc.in)
			if tc.wantErr {
				g.Expect(err).To(gomega.HaveOccurred())
				kind, ok := xerrors.KindOf(err)
				g.Expect(ok).To(gomega.BeTrue())
				g.Expect(kind).To(gomega.Equal(xerrors.LLMParseError))
				return
			}
			g.Expect(err).NotTo(gomega.HaveOccurred())
			g.Expect(out).To(gomega.Equal(tc.want))
		})
	}
}

func TestCoerceNumberField(t *testing.T) {
	g := gomega.NewWithT(t)

	n, ok := CoerceNumberField(float64(5200.0))
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(n).To(gomega.Equal(int64(5200)))

	n, ok = CoerceNumberField("3,800,000")
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(n).To(gomega.Equal(int64(3_800_000)))

	_, ok = CoerceNumberField("")
	g.Expect(ok).To(gomega.BeFalse())

	_, ok = CoerceNumberField(nil)
	g.Expect(ok).To(gomega.BeFalse())
}

func TestCoerceArray_WrapsSingleObject(t *testing.T) {
	g := gomega.NewWithT(t)

	single := map[string]any{"name": "Acme Finance LLC"}
	g.Expect(CoerceArray(single)).To(gomega.Equal([]any{single}))

	already := []any{1, 2}
	g.Expect(CoerceArray(already)).To(gomega.Equal(already))

	g.Expect(CoerceArray(nil)).To(gomega.BeNil())
}

func TestDropUnknownFields(t *testing.T) {
	g := gomega.NewWithT(t)

	kept, dropped := DropUnknownFields(
		map[string]any{"name": "x", "hallucinated": true},
		map[string]bool{"name": true},
	)
	g.Expect(kept).To(gomega.Equal(map[string]any{"name": "x"}))
	g.Expect(dropped).To(gomega.Equal([]string{"hallucinated"}))
}
