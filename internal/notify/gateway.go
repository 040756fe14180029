// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify sends review prompts and reply hints to the operator over
// an SMS gateway with a Twilio-compatible Messages API.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// GatewayConfig configures the SMS gateway client.
type GatewayConfig struct {
	BaseURL    string // e.g. https://api.twilio.com/2010-04-01/Accounts/<sid>
	FromNumber string

	// Basic auth credentials. Ignored when TokenURL is set.
	Username string
	Password string

	// OAuth2 client credentials.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// RatePerMinute bounds outbound sends. Zero disables throttling.
	RatePerMinute int
	Timeout       time.Duration
}

// Gateway posts messages to the SMS provider.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	from       string
	username   string
	password   string
	limiter    *rate.Limiter
}

// NewGateway builds a gateway client. With a TokenURL the underlying HTTP
// client fetches and refreshes bearer tokens itself.
func NewGateway(ctx context.Context, cfg GatewayConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	g := &Gateway{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		from:       cfg.FromNumber,
		username:   cfg.Username,
		password:   cfg.Password,
	}
	if cfg.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		g.httpClient = creds.Client(ctx)
		g.httpClient.Timeout = timeout
		g.username, g.password = "", ""
	}
	if cfg.RatePerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return g
}

// Send delivers body to the given number.
func (g *Gateway) Send(ctx context.Context, to, body string) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("sms rate limit: %w", err)
		}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", g.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/Messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if g.username != "" {
		req.SetBasicAuth(g.username, g.password)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	slog.Debug("sms sent", "to", to, "chars", len(body))
	return nil
}
