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
// Package llm abstracts a chat-with-JSON-response model behind a single
// interface with tiered escalation, robust JSON parsing, cost accounting,
// and structural coercion. Transport uses a uniform resty client;
// request/response shapes follow the ContentRequest pattern.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/debtstack/debtstack/internal/config"
	"github.com/debtstack/debtstack/internal/xerrors"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContentRequest is the model-agnostic request shape every tier accepts.
type ContentRequest struct {
	Messages     []Message
	Temperature  float64
	OutputSchema map[string]any
}

// ContentResponse carries the raw text plus usage accounting.
type ContentResponse struct {
	Text             string
	InputTokens      int
	OutputTokens     int
	CostUSD          float64
	Tier             string
}

// UsageRecord aggregates token/cost accounting per company.
type UsageRecord struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Calls        int
}

func (u *UsageRecord) Add(r ContentResponse) {
	u.InputTokens += r.InputTokens
	u.OutputTokens += r.OutputTokens
	u.CostUSD += r.CostUSD
	u.Calls++
}

// Client is the tiered, rate-limited, retrying chat-JSON client. It keeps a
// running UsageRecord of every successful call, so a caller that constructs
// one Client per company gets per-company cost accounting for free.
type Client struct {
	tiers    []config.LLMTier
	http     *resty.Client
	limiter  *rate.Limiter
	maxRetries int

	mu    sync.Mutex
	usage UsageRecord
}

// NewClient builds a Client from the configured tier ladder (fast, mid,
// high).
func NewClient() *Client {
	return &Client{
		tiers: config.LLMTiers(),
		http: resty.New().
			SetTimeout(config.HTTPTimeout()).
			SetRetryCount(0), // retries are handled explicitly so Kind can be observed between attempts
		limiter:    rate.NewLimiter(rate.Every(time.Second/4), 1),
		maxRetries: 4,
	}
}

// Generate issues a request pinned to tierIndex (0=fast, 1=mid, 2=high),
// retrying transient failures with exponential backoff up to a fixed retry
// ceiling. Any other error is returned at once; Generate never changes tier,
// and JSON parsing of the response is left to the caller.
func (c *Client) Generate(ctx context.Context, tierIndex int, req ContentRequest) (*ContentResponse, error) {
	if tierIndex < 0 {
		tierIndex = 0
	}
	if tierIndex >= len(c.tiers) {
		tierIndex = len(c.tiers) - 1
	}
	tier := c.tiers[tierIndex]

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, xerrors.Transient("rate limiter wait cancelled", err)
		}

		resp, err := c.call(ctx, tier, req)
		if err == nil {
			c.mu.Lock()
			c.usage.Add(*resp)
			c.mu.Unlock()
			return resp, nil
		}

		lastErr = err
		if kind, ok := xerrors.KindOf(err); ok && kind != xerrors.TransientNetwork {
			return nil, err
		}

		log.Ctx(ctx).Warn().Err(err).Str("tier", tier.Name).Int("attempt", attempt).Msg("llm call failed, retrying")
		select {
		case <-ctx.Done():
			return nil, xerrors.Transient("context cancelled during backoff", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, xerrors.Transient("llm retries exhausted", lastErr)
}

// call performs one HTTP round-trip against the tier's provider endpoint.
func (c *Client) call(ctx context.Context, tier config.LLMTier, req ContentRequest) (*ContentResponse, error) {
	if tier.APIKey == "" {
		return nil, xerrors.FatalErr("llm tier missing api key", fmt.Errorf("tier %s has no api_key configured", tier.Name))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	httpResp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+tier.APIKey).
		SetBody(map[string]any{
			"model":       tier.Model,
			"messages":    req.Messages,
			"temperature": req.Temperature,
		}).
		SetResult(&raw).
		Post(tier.BaseURL + "/chat/completions")
	if err != nil {
		return nil, xerrors.Transient("llm http request failed", err)
	}

	if httpResp.StatusCode() == 429 {
		return nil, xerrors.Transient("llm rate limited", fmt.Errorf("status %d", httpResp.StatusCode()))
	}
	if httpResp.StatusCode() >= 500 {
		return nil, xerrors.Transient("llm server error", fmt.Errorf("status %d", httpResp.StatusCode()))
	}
	if httpResp.StatusCode() >= 400 {
		return nil, xerrors.FatalErr("llm request rejected", fmt.Errorf("status %d: %s", httpResp.StatusCode(), httpResp.String()))
	}

	if len(raw.Choices) == 0 {
		return nil, xerrors.LLMParse("empty choices array", nil)
	}

	return &ContentResponse{
		Text:         raw.Choices[0].Message.Content,
		InputTokens:  raw.Usage.PromptTokens,
		OutputTokens: raw.Usage.CompletionTokens,
		CostUSD:      estimateCost(tier, raw.Usage.PromptTokens, raw.Usage.CompletionTokens),
		Tier:         tier.Name,
	}, nil
}

func estimateCost(tier config.LLMTier, inTok, outTok int) float64 {
	inCost := tier.CostPerKIn
	outCost := tier.CostPerKOut
	if inCost == 0 {
		inCost = 0.0005
	}
	if outCost == 0 {
		outCost = 0.0015
	}
	return float64(inTok)/1000*inCost + float64(outTok)/1000*outCost
}

// NumTiers returns how many escalation rungs are configured.
func (c *Client) NumTiers() int { return len(c.tiers) }

// Usage returns the accumulated token/cost accounting across every
// successful call this client has made.
func (c *Client) Usage() UsageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}
