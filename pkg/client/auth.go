// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package client

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"golang.org/x/oauth2/clientcredentials"
)

type (
	// Token is a bearer credential with its expiry, when known. A
	// zero expiry means the token does not expire.
	Token struct {
		Value   string
		Expires time.Time
	}

	// TokenSource acquires tokens for one authentication mechanism.
	// The mechanism is a static configuration choice; every source
	// answers the same Acquire call.
	TokenSource interface {
		Acquire(ctx context.Context) (*Token, error)
	}

	// AuthConfig selects and parameterizes a token source.
	AuthConfig struct {
		Type    string `hcl:"type"`
		Account string `hcl:"account"`

		Username string `hcl:"username"`
		Password string `hcl:"password"`

		Token string `hcl:"token"`

		CertFile string `hcl:"cert"`
		KeyFile  string `hcl:"key"`

		TokenURL     string `hcl:"token_url"`
		ClientID     string `hcl:"client_id"`
		ClientSecret string `hcl:"client_secret"`
		Scope        string `hcl:"scope"`
	}
)

// defaultTokenLifetime applies to opaque tokens whose expiry the
// server does not report.
const defaultTokenLifetime = time.Hour

// Expired returns true if the token needs replacing within margin.
func (t *Token) Expired(margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return true
	}
	if t.Expires.IsZero() {
		return false
	}
	return time.Until(t.Expires) < margin
}

func (c *AuthConfig) checkValid() error {
	var errs []string

	missing := func(field string) {
		errs = append(errs, fmt.Sprintf("auth type %s: %s not set", c.Type, field))
	}

	switch c.Type {
	case "userpass":
		if c.Username == "" {
			missing("username")
		}
		if c.Password == "" {
			missing("password")
		}
	case "x509":
		if c.CertFile == "" {
			missing("cert")
		}
		if c.KeyFile == "" {
			missing("key")
		}
	case "token":
		if c.Token == "" {
			missing("token")
		}
	case "oidc":
		if c.TokenURL == "" {
			missing("token_url")
		}
		if c.ClientID == "" {
			missing("client_id")
		}
		if c.ClientSecret == "" {
			missing("client_secret")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown auth type %q", c.Type))
	}

	if len(errs) > 0 {
		return errors.Errorf("Errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// NewTokenSource builds the token source for the configured
// mechanism. baseURL is the central service's auth endpoint root.
func NewTokenSource(cfg *AuthConfig, baseURL string) (TokenSource, error) {
	if err := cfg.checkValid(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "userpass":
		return &userpassSource{cfg: cfg, base: baseURL, http: &http.Client{Timeout: 30 * time.Second}}, nil
	case "x509":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load client certificate")
		}
		hc := &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			},
		}
		return &x509Source{cfg: cfg, base: baseURL, http: hc}, nil
	case "token":
		return &staticSource{token: cfg.Token}, nil
	case "oidc":
		return &oidcSource{cfg: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       strings.Fields(cfg.Scope),
		}}, nil
	}
	return nil, errors.Errorf("unknown auth type %q", cfg.Type)
}

// tokenExpiry reads the exp claim when the value is a JWT; opaque
// tokens get the default lifetime.
func tokenExpiry(value string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(defaultTokenLifetime)
}

type userpassSource struct {
	cfg  *AuthConfig
	base string
	http *http.Client
}

func (s *userpassSource) Acquire(ctx context.Context) (*Token, error) {
	req, err := http.NewRequest("GET", s.base+"/auth/userpass", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build auth request")
	}
	req = req.WithContext(ctx)
	req.Header.Set(accountHeader, s.cfg.Account)
	req.Header.Set("X-Courier-Username", s.cfg.Username)
	req.Header.Set("X-Courier-Password", s.cfg.Password)

	return fetchToken(s.http, req)
}

type x509Source struct {
	cfg  *AuthConfig
	base string
	http *http.Client
}

func (s *x509Source) Acquire(ctx context.Context) (*Token, error) {
	req, err := http.NewRequest("GET", s.base+"/auth/x509", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build auth request")
	}
	req = req.WithContext(ctx)
	req.Header.Set(accountHeader, s.cfg.Account)

	return fetchToken(s.http, req)
}

func fetchToken(hc *http.Client, req *http.Request) (*Token, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "auth request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("auth request returned %s", resp.Status)
	}

	value := resp.Header.Get(tokenHeader)
	if value == "" {
		return nil, errors.Errorf("auth response missing %s header", tokenHeader)
	}
	return &Token{Value: value, Expires: tokenExpiry(value)}, nil
}

type staticSource struct {
	token string
}

func (s *staticSource) Acquire(ctx context.Context) (*Token, error) {
	return &Token{Value: s.token, Expires: tokenExpiry(s.token)}, nil
}

type oidcSource struct {
	cfg *clientcredentials.Config
}

func (s *oidcSource) Acquire(ctx context.Context) (*Token, error) {
	tok, err := s.cfg.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "oidc token request failed")
	}
	return &Token{Value: tok.AccessToken, Expires: tok.Expiry}, nil
}
