// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package client is a thin REST client for the central data-management
// service. The scheduler core does not depend on it; it serves the
// operator CLI and the transfer tool's token needs.
package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/intel-hpdd/logging/debug"
)

const (
	accountHeader = "X-Courier-Account"
	tokenHeader   = "X-Courier-Auth-Token"

	// refreshMargin forces a token refresh shortly before expiry so
	// in-flight calls do not race the deadline.
	refreshMargin = 5 * time.Minute
)

// Client talks to the central service with automatic token handling.
type Client struct {
	base   string
	http   *http.Client
	source TokenSource

	mu    sync.Mutex
	token *Token
}

// New returns a Client rooted at base, acquiring credentials from
// source on demand.
func New(base string, source TokenSource) *Client {
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		source: source,
	}
}

// CurrentToken returns a valid token value, acquiring or refreshing
// as needed.
func (c *Client) CurrentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Expired(refreshMargin) {
		debug.Printf("acquiring fresh token from %s", c.base)
		token, err := c.source.Acquire(ctx)
		if err != nil {
			return "", err
		}
		c.token = token
	}
	return c.token.Value, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	retried := false
	for {
		token, err := c.CurrentToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequest(method, c.base+path, nil)
		if err != nil {
			return errors.Wrapf(err, "failed to build %s %s", method, path)
		}
		req = req.WithContext(ctx)
		req.Header.Set(tokenHeader, token)

		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrapf(err, "%s %s failed", method, path)
		}

		if resp.StatusCode == http.StatusUnauthorized && !retried {
			// The server rejected a token we thought was fresh;
			// acquire a new one and try once more.
			resp.Body.Close()
			c.invalidateToken()
			retried = true
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.Errorf("%s %s returned %s", method, path, resp.Status)
		}

		if out == nil {
			return nil
		}
		return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "%s %s decode failed", method, path)
	}
}

// WhoAmI returns the account the credentials authenticate as.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var info struct {
		Account string `json:"account"`
	}
	if err := c.do(ctx, "GET", "/accounts/whoami", &info); err != nil {
		return "", err
	}
	return info.Account, nil
}

// AccountLimits returns the per-RSE byte quotas of an account.
func (c *Client) AccountLimits(ctx context.Context, account string) (map[string]int64, error) {
	var limits map[string]int64
	err := c.do(ctx, "GET", fmt.Sprintf("/accounts/%s/limits", account), &limits)
	if err != nil {
		return nil, err
	}
	return limits, nil
}
