package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// maxBodyBytes caps how much of a page is parsed.
const maxBodyBytes = 10 << 20

// DefaultMaxRedirectHops bounds soft redirect chains when the caller sets no limit.
const DefaultMaxRedirectHops = 5

// SoftRedirect recognises a page that points to another page instead of
// carrying content. Target returns the next URL, possibly relative.
type SoftRedirect struct {
	Detect func(doc *goquery.Document) bool
	Target func(doc *goquery.Document) string
}

type fetchOptions struct {
	headers  map[string]string
	redirect *SoftRedirect
}

// Option adjusts a single document fetch.
type Option func(*fetchOptions)

// WithHeader adds a request header, overriding the defaults.
func WithHeader(key, value string) Option {
	return func(o *fetchOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithSoftRedirect makes the fetch follow in-page redirects recognised by sr.
func WithSoftRedirect(sr SoftRedirect) Option {
	return func(o *fetchOptions) {
		o.redirect = &sr
	}
}

// DocumentFetcher retrieves pages and parses them into goquery documents.
type DocumentFetcher struct {
	fetcher   *Fetcher
	gate      *HostGate
	robots    *RobotsGuard
	userAgent string
	maxHops   int
	log       *logrus.Entry
}

// DocumentFetcherOptions wires the collaborators of a DocumentFetcher.
// Gate and Robots are optional.
type DocumentFetcherOptions struct {
	Gate            *HostGate
	Robots          *RobotsGuard
	UserAgent       string
	MaxRedirectHops int
}

// NewDocumentFetcher creates a DocumentFetcher
func NewDocumentFetcher(fetcher *Fetcher, opts DocumentFetcherOptions, log *logrus.Entry) *DocumentFetcher {
	if opts.MaxRedirectHops <= 0 {
		opts.MaxRedirectHops = DefaultMaxRedirectHops
	}
	return &DocumentFetcher{
		fetcher:   fetcher,
		gate:      opts.Gate,
		robots:    opts.Robots,
		userAgent: opts.UserAgent,
		maxHops:   opts.MaxRedirectHops,
		log:       log,
	}
}

// WithUserAgent returns a copy that sends ua.
func (d *DocumentFetcher) WithUserAgent(ua string) *DocumentFetcher {
	cp := *d
	cp.userAgent = ua
	return &cp
}

// Fetch is FetchDocument for callers that treat any failure as "no page".
// The failure is logged with its category.
func (d *DocumentFetcher) Fetch(ctx context.Context, rawURL string, opts ...Option) *goquery.Document {
	doc, err := d.FetchDocument(ctx, rawURL, opts...)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"url":            rawURL,
			"error_category": utils.CategorizeError(err),
		}).Warnf("Fetch failed: %v", err)
		return nil
	}
	return doc
}

// FetchDocument retrieves rawURL and parses it. The document's Url is set to
// the final address so relative links resolve against it. Soft redirects are
// followed up to the hop limit, past which ErrTooManyRedirects is returned.
// A soft redirect leaving the scheme and host of rawURL is refused.
func (d *DocumentFetcher) FetchDocument(ctx context.Context, rawURL string, opts ...Option) (*goquery.Document, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	current, err := url.Parse(rawURL)
	if err != nil || !current.IsAbs() {
		return nil, fmt.Errorf("%w: invalid URL '%s'", utils.ErrParsing, rawURL)
	}
	origin := current

	for hops := 0; ; hops++ {
		doc, err := d.fetchOnce(ctx, current, o.headers)
		if err != nil {
			return nil, err
		}

		if o.redirect == nil || !o.redirect.Detect(doc) {
			return doc, nil
		}
		if hops >= d.maxHops {
			return nil, fmt.Errorf("%w: gave up at %s after %d hops", utils.ErrTooManyRedirects, current, hops)
		}

		target := o.redirect.Target(doc)
		if target == "" {
			return nil, fmt.Errorf("%w: soft redirect without target at %s", utils.ErrParsing, current)
		}
		next, err := doc.Url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("%w: bad redirect target '%s': %v", utils.ErrParsing, target, err)
		}
		if !sameOrigin(origin, next) {
			return nil, fmt.Errorf("%w: soft redirect from %s leaves origin %s://%s for %s", utils.ErrParsing, current, origin.Scheme, origin.Host, next)
		}
		d.log.WithFields(logrus.Fields{"from": current.String(), "to": next.String(), "hop": hops + 1}).Debug("Following soft redirect")
		current = next
	}
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// fetchOnce performs one GET, retries included, and parses the body.
func (d *DocumentFetcher) fetchOnce(ctx context.Context, target *url.URL, headers map[string]string) (*goquery.Document, error) {
	if d.robots != nil && !d.robots.Allowed(ctx, target) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "es-UY,es;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// gate permits are held per attempt and returned when the body is closed
	resp, err := d.fetcher.FetchThroughGate(ctx, req, d.gate)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", utils.ErrResponseBodyRead, target, err)
	}
	// resp.Request reflects HTTP-level redirects
	doc.Url = resp.Request.URL
	return doc, nil
}
