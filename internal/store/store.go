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
// Package store wraps a pgxpool connection pool and the advisory-locking
// primitive the orchestrator uses to serialize concurrent runs
// against the same company.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds the database pool all DebtStack components share. It carries
// no other mutable state: configuration is per-invocation, with no global
// state.
type Store struct {
	DBUrl string
	Pool  *pgxpool.Pool
}

// Open connects to the database configured by dbURL.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	return &Store{DBUrl: dbURL, Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.Pool.Close()
}
