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
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// EnsureFinancialsPartitions creates any missing yearly partitions of
// company_financials for years up to and including next year, using a
// range-partition-creation idiom against this schema's single partitioned
// table.
func (s *Store) EnsureFinancialsPartitions(ctx context.Context) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			if !errors.Is(err, pgx.ErrTxClosed) {
				log.Error().Err(err).Msg("error rolling back partition tx")
			}
		}
	}()

	year := time.Now().Year() + 1
	// the initial migration seeds partitions through 2030; extend one year
	// at a time beyond that as real clocks advance.
	for y := 2030; y <= year; y++ {
		tableName := fmt.Sprintf("company_financials_%d_%d", y, y+1)
		sql := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s PARTITION OF company_financials FOR VALUES FROM ('%d-01-01') TO ('%d-01-01');",
			tableName, y, y+1)
		log.Debug().Str("sql", sql).Msg("creating company_financials partition")
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
