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
// Package config centralizes the viper-backed settings DebtStack reads at
// each invocation. There is no global mutable configuration object beyond
// viper's own singleton; every command reads what it needs at the point
// of use, per-invocation, matching the "no global state" design note.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// LLMTier describes one rung of the escalation ladder (fast/mid/high).
type LLMTier struct {
	Name        string
	Model       string
	APIKey      string
	BaseURL     string
	CostPerKIn  float64
	CostPerKOut float64
}

// Init sets defaults and registers environment variable bindings. Call once
// from cobra's OnInitialize hook.
func Init() {
	viper.SetEnvPrefix("DEBTSTACK")
	viper.AutomaticEnv()

	viper.SetDefault("db.url", "postgres://localhost:5432/debtstack?sslmode=disable")
	viper.SetDefault("secdata.user_agent", "DebtStack research contact@example.com")
	viper.SetDefault("secdata.base_url", "https://data.sec.gov")
	viper.SetDefault("secdata.rate_per_second", 8)
	viper.SetDefault("orchestrator.max_concurrent_companies", 1)
	viper.SetDefault("fixplan.max_iterations", 3)
	viper.SetDefault("qa.pass_threshold", 85)
	viper.SetDefault("llm.tiers.fast.model", "gpt-4o-mini")
	viper.SetDefault("llm.tiers.mid.model", "gpt-4o")
	viper.SetDefault("llm.tiers.high.model", "gpt-4-turbo")
	viper.SetDefault("monitor.healthcheck_slug", "")
}

// DBUrl returns the configured Postgres connection string.
func DBUrl() string { return viper.GetString("db.url") }

// MaxConcurrentCompanies bounds how many companies `--all` processes at once.
func MaxConcurrentCompanies() int {
	n := viper.GetInt("orchestrator.max_concurrent_companies")
	if n < 1 {
		return 1
	}
	return n
}

// FixPlanMaxIterations is the bounded retry cap for the fix planner.
func FixPlanMaxIterations() int {
	n := viper.GetInt("fixplan.max_iterations")
	if n < 1 {
		return 3
	}
	return n
}

// QAPassThreshold is the minimum QA score (out of 100) to consider a company
// successfully extracted.
func QAPassThreshold() int {
	n := viper.GetInt("qa.pass_threshold")
	if n <= 0 {
		return 85
	}
	return n
}

// LLMTiers returns the escalation ladder in order: fast, mid, high.
func LLMTiers() []LLMTier {
	names := []string{"fast", "mid", "high"}
	tiers := make([]LLMTier, 0, len(names))
	for _, n := range names {
		prefix := "llm.tiers." + n
		tiers = append(tiers, LLMTier{
			Name:    n,
			Model:   viper.GetString(prefix + ".model"),
			APIKey:  viper.GetString(prefix + ".api_key"),
			BaseURL: viper.GetString(prefix + ".base_url"),
		})
	}
	return tiers
}

// SECUserAgent is sent on every SEC EDGAR request per their fair-access policy.
func SECUserAgent() string { return viper.GetString("secdata.user_agent") }

// SECBaseURL is the root of the filing-index provider.
func SECBaseURL() string { return viper.GetString("secdata.base_url") }

// SECRateLimit returns the max requests/second allowed against the filing index.
func SECRateLimit() float64 {
	r := viper.GetFloat64("secdata.rate_per_second")
	if r <= 0 {
		return 8
	}
	return r
}

// HTTPTimeout is the per-call timeout used uniformly across suspension points.
func HTTPTimeout() time.Duration { return 30 * time.Second }

// MonitorSlug names the healthchecks.io check pinged around a batch run;
// empty disables monitoring entirely.
func MonitorSlug() string { return viper.GetString("monitor.healthcheck_slug") }

// CollateralAliases returns the configurable keyword→collateral_type mapping,
// so novel collateral kinds (e.g. digital assets pledged under a credit
// agreement) can be classified by config instead of a code change.
func CollateralAliases() map[string]string {
	m := viper.GetStringMapString("extract.collateral_aliases")
	if len(m) == 0 {
		return map[string]string{
			"bitcoin":      "securities",
			"digital asset": "securities",
			"cryptocurrency": "securities",
		}
	}
	return m
}
