package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// hostEntry bounds concurrency and request rate for one host.
type hostEntry struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// HostGate admits requests under a global concurrency cap, a per-host
// concurrency cap and a per-host token bucket.
type HostGate struct {
	global         *semaphore.Weighted
	hosts          map[string]*hostEntry
	mu             sync.Mutex
	perHost        int64
	rps            rate.Limit
	burst          int
	acquireTimeout time.Duration
	log            *logrus.Entry
}

// GateSettings configures a HostGate. Zero values disable the matching limit.
type GateSettings struct {
	MaxRequests        int
	MaxRequestsPerHost int
	RequestsPerSecond  float64
	AcquireTimeout     time.Duration
}

// NewHostGate creates a HostGate from settings.
func NewHostGate(s GateSettings, log *logrus.Entry) *HostGate {
	g := &HostGate{
		hosts:          make(map[string]*hostEntry),
		perHost:        int64(s.MaxRequestsPerHost),
		rps:            rate.Inf,
		burst:          1,
		acquireTimeout: s.AcquireTimeout,
		log:            log,
	}
	if s.MaxRequests > 0 {
		g.global = semaphore.NewWeighted(int64(s.MaxRequests))
	}
	if s.RequestsPerSecond > 0 {
		g.rps = rate.Limit(s.RequestsPerSecond)
		if s.MaxRequestsPerHost > 1 {
			g.burst = s.MaxRequestsPerHost
		}
	}
	return g
}

// entryFor returns the host's entry, creating it on first use.
func (g *HostGate) entryFor(host string) *hostEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.hosts[host]; ok {
		return e
	}
	e := &hostEntry{limiter: rate.NewLimiter(g.rps, g.burst)}
	if g.perHost > 0 {
		e.sem = semaphore.NewWeighted(g.perHost)
	}
	g.hosts[host] = e
	g.log.WithField("host", host).Debug("Created host gate entry")
	return e
}

// acquire takes one unit of sem, bounded by the acquire timeout.
func (g *HostGate) acquire(ctx context.Context, sem *semaphore.Weighted, what, host string) error {
	if sem == nil {
		return nil
	}
	acqCtx := ctx
	if g.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, g.acquireTimeout)
		defer cancel()
	}
	if err := sem.Acquire(acqCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s semaphore for %s after %v", utils.ErrSemaphoreTimeout, what, host, g.acquireTimeout)
		}
		return err
	}
	return nil
}

// Acquire blocks until a request to host may start. The returned release
// func must be called once the response has been consumed.
func (g *HostGate) Acquire(ctx context.Context, host string) (func(), error) {
	e := g.entryFor(host)

	if err := g.acquire(ctx, g.global, "global", host); err != nil {
		return nil, err
	}
	if err := g.acquire(ctx, e.sem, "host", host); err != nil {
		if g.global != nil {
			g.global.Release(1)
		}
		return nil, err
	}

	release := func() {
		if e.sem != nil {
			e.sem.Release(1)
		}
		if g.global != nil {
			g.global.Release(1)
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		release()
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Len returns the number of hosts seen so far.
func (g *HostGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hosts)
}
