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
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// companyLockKey derives a stable int64 advisory lock key from a company id.
// Postgres advisory locks are keyed on a bigint; hashing the UUID keeps the
// key space uniform without a separate sequence table.
func companyLockKey(companyID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(companyID[:])
	return int64(h.Sum64())
}

// CompanyLock is held for the duration of one company's orchestrator run so
// independent processes cannot interleave merges; an advisory database
// lock keyed on company id.
type CompanyLock struct {
	conn *pgx.Conn
	key  int64
}

// AcquireCompanyLock blocks until the advisory lock for companyID is held on
// a dedicated connection (advisory locks are session-scoped, so the
// connection must outlive the lock and never be returned to the pool while
// held).
func (s *Store) AcquireCompanyLock(ctx context.Context, companyID uuid.UUID) (*CompanyLock, error) {
	conn, err := pgx.Connect(ctx, s.DBUrl)
	if err != nil {
		return nil, err
	}

	key := companyLockKey(companyID)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	return &CompanyLock{conn: conn, key: key}, nil
}

// TryAcquireCompanyLock attempts the lock without blocking; ok is false if
// another process already holds it, so a concurrent re-run for the same
// company exits cleanly rather than waiting.
func (s *Store) TryAcquireCompanyLock(ctx context.Context, companyID uuid.UUID) (lock *CompanyLock, ok bool, err error) {
	conn, err := pgx.Connect(ctx, s.DBUrl)
	if err != nil {
		return nil, false, err
	}

	key := companyLockKey(companyID)
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		_ = conn.Close(ctx)
		return nil, false, err
	}

	if !acquired {
		_ = conn.Close(ctx)
		return nil, false, nil
	}

	return &CompanyLock{conn: conn, key: key}, true, nil
}

// Release unlocks and closes the dedicated connection.
func (l *CompanyLock) Release(ctx context.Context) error {
	defer func() { _ = l.conn.Close(ctx) }()
	_, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key)
	return err
}
