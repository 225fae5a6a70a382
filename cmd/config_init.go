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
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jackc/pgx/v5"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/debtstack/debtstack/db"
)

// debtstackConfig is the on-disk shape of .debtstack.toml. Its nesting
// mirrors the dotted viper keys internal/config.Init() reads (db.url,
// secdata.user_agent, llm.tiers.<tier>.api_key, monitor.healthcheck_slug),
// since a flat key set here would silently fail to bind at startup.
type debtstackConfig struct {
	DB struct {
		URL string `toml:"url"`
	} `toml:"db"`
	SECData struct {
		UserAgent string `toml:"user_agent"`
	} `toml:"secdata"`
	LLM struct {
		Tiers struct {
			Fast struct {
				APIKey string `toml:"api_key"`
			} `toml:"fast"`
			Mid struct {
				APIKey string `toml:"api_key"`
			} `toml:"mid"`
			High struct {
				APIKey string `toml:"api_key"`
			} `toml:"high"`
		} `toml:"tiers"`
	} `toml:"llm"`
	Monitor struct {
		HealthcheckSlug string `toml:"healthcheck_slug"`
	} `toml:"monitor"`
}

// configInitCmd represents the config init command.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Gather database and LLM provider configuration and set up the schema",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := &debtstackConfig{}

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Provide the DSN for connecting to your PostgreSQL database (postgres://[user[:password]@][netloc][:port][/dbname][?param1=value1&...])").
					Value(&cfg.DB.URL).
					Validate(func(dsn string) error {
						_, err := pgx.ParseConfig(dsn)
						return err
					}),

				huh.NewInput().
					Title("SEC EDGAR user agent (required contact string per SEC fair-access policy)").
					Value(&cfg.SECData.UserAgent),
			),

			huh.NewGroup(
				huh.NewInput().
					Title("Fast-tier LLM API key").
					Value(&cfg.LLM.Tiers.Fast.APIKey),
				huh.NewInput().
					Title("Mid-tier LLM API key").
					Value(&cfg.LLM.Tiers.Mid.APIKey),
				huh.NewInput().
					Title("High-tier LLM API key").
					Value(&cfg.LLM.Tiers.High.APIKey),
				huh.NewInput().
					Title("healthchecks.io slug for batch-run monitoring (optional)").
					Value(&cfg.Monitor.HealthcheckSlug),
			),
		)

		if err := form.Run(); err != nil {
			log.Fatal().Err(err).Msg("error gathering configuration")
		}

		log.Info().Msg("creating database tables")

		dbURL := strings.Replace(cfg.DB.URL, "postgres://", "pgx5://", -1)
		if err := db.Migrate(dbURL); err != nil {
			log.Fatal().Err(err).Msg("error running database migration")
		}

		log.Info().Msg("database tables created")

		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal().Err(err).Msg("could not determine user home directory")
		}

		configFN := filepath.Join(home, ".debtstack.toml")
		log.Info().Str("ConfigFile", configFN).Msg("saving configuration to file")
		configData, err := toml.Marshal(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("could not marshal configuration data")
		}

		if err := os.WriteFile(configFN, configData, 0644); err != nil {
			log.Fatal().Err(err).Str("FileName", configFN).Msg("could not save configuration to file")
		}

		log.Info().Msg("debtstack is configured and ready to extract")
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// configCmd is the parent of config subcommands (currently just init).
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage debtstack configuration",
}
