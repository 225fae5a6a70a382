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

// Package cache is the extraction cache: durable storage keyed on
// (company, step, schema_version), rewritten atomically per step. The
// orchestrator writes every step's result here; its resume decisions come
// from the recorded step status, not from this cache. Payloads live in the
// extraction_cache table as jsonb; connection handling reuses
// internal/store.Store's pgxpool rather than a separate blob store.
package cache

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/debtstack/debtstack/internal/store"
)

// SchemaVersion is bumped whenever a cached step's payload shape changes
// incompatibly; a bump makes every prior entry unreachable without needing
// a migration, since it is part of the primary key.
const SchemaVersion = 1

// Cache is a thin wrapper around the store's pool scoped to the
// extraction_cache table.
type Cache struct {
	s *store.Store
}

func New(s *store.Store) *Cache {
	return &Cache{s: s}
}

// Put rewrites the cached payload for (companyID, step) atomically within a
// single upsert statement; concurrent readers never observe a partial
// write because Postgres commits the row in one transaction.
func (c *Cache) Put(ctx context.Context, companyID uuid.UUID, step string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	const sql = `INSERT INTO extraction_cache (company_id, step, schema_version, payload, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (company_id, step, schema_version) DO UPDATE SET
	payload = EXCLUDED.payload,
	updated_at = now();`

	_, err = c.s.Pool.Exec(ctx, sql, companyID, step, SchemaVersion, data)
	return err
}

// Get reads the cached payload for (companyID, step) into out, returning
// false if no entry exists for the current schema version.
func (c *Cache) Get(ctx context.Context, companyID uuid.UUID, step string, out any) (bool, error) {
	const sql = `SELECT payload FROM extraction_cache WHERE company_id = $1 AND step = $2 AND schema_version = $3;`

	var raw []byte
	err := c.s.Pool.QueryRow(ctx, sql, companyID, step, SchemaVersion).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode cache payload: %w", err)
	}
	return true, nil
}

// Invalidate deletes the cached entries of exactly the listed steps for a
// company; --force passes every step to discard all cached results before
// re-running.
func (c *Cache) Invalidate(ctx context.Context, companyID uuid.UUID, steps ...string) error {
	const sql = `DELETE FROM extraction_cache WHERE company_id = $1 AND step = ANY($2);`
	_, err := c.s.Pool.Exec(ctx, sql, companyID, steps)
	return err
}
