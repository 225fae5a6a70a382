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

// Package monitor pings a healthchecks.io-style dead-man's-switch at the
// start and end of a batch orchestrator run, so a stalled or crashed
// `extract --all` is visible without tailing logs. One check covers a
// whole batch run's start/success/fail.
package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/viper"
)

var ErrStatus = errors.New("status code is invalid")

// Monitor pings a single healthchecks.io check identified by slug.
type Monitor struct {
	client  *resty.Client
	baseURL string
	slug    string
}

func New(slug string) *Monitor {
	return &Monitor{
		client:  resty.New(),
		baseURL: viper.GetString("healthchecks.ping_url"),
		slug:    slug,
	}
}

func (m *Monitor) enabled() bool {
	return m.baseURL != "" && m.slug != ""
}

// Start pings the check's start endpoint, marking a run as in-progress.
func (m *Monitor) Start(ctx context.Context) error {
	return m.ping(ctx, "/start")
}

// Success pings the plain check endpoint, marking the run complete.
func (m *Monitor) Success(ctx context.Context) error {
	return m.ping(ctx, "")
}

// Fail pings the check's fail endpoint with a short reason in the body.
func (m *Monitor) Fail(ctx context.Context, reason string) error {
	if !m.enabled() {
		return nil
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(reason).
		Post(fmt.Sprintf("%s/%s/fail", m.baseURL, m.slug))
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
	}
	return nil
}

func (m *Monitor) ping(ctx context.Context, suffix string) error {
	if !m.enabled() {
		return nil
	}
	resp, err := m.client.R().
		SetContext(ctx).
		Post(fmt.Sprintf("%s/%s%s", m.baseURL, m.slug, suffix))
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
	}
	return nil
}
