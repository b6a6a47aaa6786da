package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// RetryPolicy is a fixed-delay retry schedule.
type RetryPolicy struct {
	MaxRetries int           // retries after the first attempt
	Delay      time.Duration // pause between attempts
}

// Fetcher performs HTTP requests with a fixed-delay retry policy.
type Fetcher struct {
	client *http.Client
	policy RetryPolicy
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, policy RetryPolicy, log *logrus.Entry) *Fetcher {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Fetcher{client: client, policy: policy, log: log}
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// releaseOnClose returns the gate permits of a response once its body is closed.
type releaseOnClose struct {
	io.ReadCloser
	release func()
}

func (r *releaseOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.release()
	return err
}

// FetchWithRetry performs req, retrying transport errors, 5xx and 429 up to
// MaxRetries times with a fixed delay. Other 4xx are returned immediately.
// On success the caller must close the response body.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f.FetchThroughGate(ctx, req, nil)
}

// FetchThroughGate is FetchWithRetry with each attempt admitted by gate.
// Permits are held for one attempt only, never across the retry delay; on
// success they are returned when the response body is closed. A nil gate
// admits everything.
func (f *Fetcher) FetchThroughGate(ctx context.Context, req *http.Request, gate *HostGate) (*http.Response, error) {
	var lastErr error
	reqLog := f.log.WithField("url", req.URL.String())

	for attempt := 0; attempt <= f.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": f.policy.MaxRetries, "delay": f.policy.Delay}).Warn("Retrying request...")
			select {
			case <-time.After(f.policy.Delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		release := func() {}
		if gate != nil {
			r, err := gate.Acquire(ctx, req.URL.Host)
			if err != nil {
				if lastErr != nil {
					return nil, fmt.Errorf("%w (after: %v)", err, lastErr)
				}
				return nil, err
			}
			release = r
		}

		resp, err := f.client.Do(req.WithContext(ctx))
		if err != nil {
			drain(resp)
			release()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Warnf("Network error: %v", err)
			lastErr = err
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		if statusCode >= 200 && statusCode < 300 {
			resLog.Debug("Successfully fetched")
			resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: release}
			return resp, nil
		}
		drain(resp)
		release()

		switch {
		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)
			continue

		case statusCode >= 400:
			resLog.Warn("Client error (4xx), not retrying")
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", f.policy.MaxRetries+1, lastErr)
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}
