// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transfertool

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/context"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"

	"github.com/gridfab/courier/pkg/client"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

var rate metrics.Meter

func init() {
	Register(DefaultTool, NewFTS)

	rate = metrics.NewMeter()
	metrics.Register("transfersSubmitted", rate)

	if debug.Enabled() {
		go func() {
			for {
				audit.Logf("submitted %s (1 min/5 min/15 min/inst): %s/%s/%s/%s xfer/sec\n",
					humanize.Comma(rate.Count()),
					humanize.Comma(int64(rate.Rate1())),
					humanize.Comma(int64(rate.Rate5())),
					humanize.Comma(int64(rate.Rate15())),
					humanize.Comma(int64(rate.RateMean())),
				)
				time.Sleep(10 * time.Second)
			}
		}()
	}
}

// ftsTool speaks the FTS3 REST dialect.
type ftsTool struct {
	host    string
	source  client.TokenSource
	http    *http.Client
	retries int
	delay   time.Duration
}

// NewFTS builds a tool bound to one FTS3 endpoint. Transient
// submission failures are retried with capped exponential backoff.
func NewFTS(cfg ToolConfig) (Tool, error) {
	if cfg.Host == "" {
		return nil, errors.New("transfertool host not set")
	}

	t := &ftsTool{
		host:    strings.TrimRight(cfg.Host, "/"),
		source:  cfg.Source,
		http:    &http.Client{Timeout: 2 * time.Minute},
		retries: cfg.Retries,
		delay:   cfg.RetryDelay,
	}
	if t.retries <= 0 {
		t.retries = defaultRetries
	}
	if t.delay <= 0 {
		t.delay = defaultRetryDelay
	}
	return t, nil
}

func (t *ftsTool) Name() string {
	return DefaultTool
}

// Submit posts the job and returns the id the service assigned to it.
func (t *ftsTool) Submit(ctx context.Context, job *Job) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode job")
	}

	for attempt := 0; ; attempt++ {
		id, err := t.post(ctx, body)
		if err == nil {
			rate.Mark(int64(len(job.Transfers)))
			debug.Printf("%s accepted job %s as %s (%d transfers)",
				t.host, job.ID, id, len(job.Transfers))
			return id, nil
		}
		if !IsTransient(err) || attempt >= t.retries {
			return "", err
		}

		delay := t.delay << uint(attempt)
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		debug.Printf("submit of %s to %s failed (attempt %d): %s", job.ID, t.host, attempt+1, err)
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "submit interrupted")
		case <-time.After(delay):
		}
	}
}

func (t *ftsTool) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequest("POST", t.host+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	if err := t.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return "", &TransientError{Reason: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", &DuplicateError{Host: t.host}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return "", &TransientError{Reason: errors.Errorf("%s returned %s", t.host, resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", errors.Errorf("%s rejected job: %s", t.host, resp.Status)
	}

	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", errors.Wrap(err, "failed to decode submit response")
	}
	if accepted.JobID == "" {
		return "", errors.Errorf("%s returned no job id", t.host)
	}
	return accepted.JobID, nil
}

// Cancel withdraws a previously accepted job.
func (t *ftsTool) Cancel(ctx context.Context, externalID string) error {
	req, err := http.NewRequest("DELETE", t.host+"/jobs/"+externalID, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req = req.WithContext(ctx)
	if err := t.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", externalID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("%s refused to cancel job %s: %s", t.host, externalID, resp.Status)
	}
	debug.Printf("%s cancelled job %s", t.host, externalID)
	return nil
}

func (t *ftsTool) authorize(ctx context.Context, req *http.Request) error {
	if t.source == nil {
		return nil
	}
	token, err := t.source.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to acquire token")
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	return nil
}
