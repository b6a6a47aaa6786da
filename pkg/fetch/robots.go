package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsGuard fetches, caches and checks robots.txt per host.
// A host whose robots.txt cannot be fetched is treated as allowing everything.
type RobotsGuard struct {
	fetcher   *Fetcher
	userAgent string
	cache     map[string]*robotstxt.RobotsData // host -> parsed data (or nil)
	mu        sync.Mutex
	log       *logrus.Entry
}

// NewRobotsGuard creates a RobotsGuard
func NewRobotsGuard(fetcher *Fetcher, userAgent string, log *logrus.Entry) *RobotsGuard {
	return &RobotsGuard{
		fetcher:   fetcher,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether target may be fetched.
func (rg *RobotsGuard) Allowed(ctx context.Context, target *url.URL) bool {
	data := rg.dataFor(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rg.userAgent)
}

// dataFor returns cached robots data for target's host, fetching on a miss.
func (rg *RobotsGuard) dataFor(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host
	rg.mu.Lock()
	data, found := rg.cache[host]
	rg.mu.Unlock()
	if found {
		return data
	}

	data = rg.fetch(ctx, target)

	rg.mu.Lock()
	rg.cache[host] = data
	rg.mu.Unlock()
	return data
}

func (rg *RobotsGuard) fetch(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	robotsLog := rg.log.WithField("robots_url", robotsURL.String())
	robotsLog.Info("Fetching robots.txt...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rg.userAgent)

	resp, err := rg.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		robotsLog.Warnf("Fetching robots.txt failed, allowing all: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		robotsLog.Errorf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Debug("Parsed robots.txt")
	return data
}
