package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// DefaultUserAgent is a desktop browser identity; the listing sites block default client identifiers.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/72.0.3626.121 Safari/537.36"

// ParamValue is a URL template parameter. YAML may give it as a scalar or a list;
// a list makes the source crawl one search per value.
type ParamValue []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (p *ParamValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = ParamValue{node.Value}
		return nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("%w: line %d: list params must hold scalar values", utils.ErrConfigValidation, item.Line)
			}
			values = append(values, item.Value)
		}
		*p = values
		return nil
	}
	return fmt.Errorf("%w: line %d: unsupported param type (expected scalar or list)", utils.ErrConfigValidation, node.Line)
}

// First returns the first value or "".
func (p ParamValue) First() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// SourceConfig holds configuration for one listing site, keyed by alias in AppConfig.Sources
type SourceConfig struct {
	URLTemplate  string                `yaml:"url_template"`
	Params       map[string]ParamValue `yaml:"params,omitempty"`
	PageSize     int                   `yaml:"page_size,omitempty"` // 0 = adapter default
	Enabled      *bool                 `yaml:"enabled,omitempty"`
	NumWorkers   int                   `yaml:"num_workers,omitempty"`
	CrawlTimeout time.Duration         `yaml:"crawl_timeout,omitempty"`
	UserAgent    string                `yaml:"user_agent,omitempty"`
}

// StorageConfig selects the ListingStore backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // badger | sqlite | postgres
	DSN    string `yaml:"dsn,omitempty"`
}

// EligibilityConfig holds the vocabularies and optional thresholds of the filter chain.
type EligibilityConfig struct {
	AcceptedDepartments  []string            `yaml:"accepted_departments,omitempty"`
	UnsafeNeighbourhoods map[string][]string `yaml:"unsafe_neighbourhoods,omitempty"` // department -> neighbourhoods
	UnavailableKeywords  []string            `yaml:"unavailable_keywords,omitempty"`
	AdultKeywords        []string            `yaml:"adult_keywords,omitempty"`
	PlaceholderImages    []string            `yaml:"placeholder_images,omitempty"`
	NoPetsPhrases        []string            `yaml:"no_pets_phrases,omitempty"`
	MaxPrice             map[string]int64    `yaml:"max_price,omitempty"` // currency -> exclusive ceiling
	MinAreaSqMeters      int                 `yaml:"min_area_sq_meters,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	StoreMode               string                  `yaml:"store_mode"`
	UserAgent               string                  `yaml:"user_agent,omitempty"`
	NumWorkers              int                     `yaml:"num_workers"`
	MaxRequests             int                     `yaml:"max_requests"`
	MaxRequestsPerHost      int                     `yaml:"max_requests_per_host"`
	RequestsPerSecond       float64                 `yaml:"requests_per_second,omitempty"`
	MaxRetries              int                     `yaml:"max_retries,omitempty"`
	RetryDelay              time.Duration           `yaml:"retry_delay,omitempty"`
	MaxRedirectHops         int                     `yaml:"max_redirect_hops,omitempty"`
	MaxProbePages           int                     `yaml:"max_probe_pages,omitempty"`
	CrawlTimeout            time.Duration           `yaml:"crawl_timeout,omitempty"`
	SemaphoreAcquireTimeout time.Duration           `yaml:"semaphore_acquire_timeout,omitempty"`
	RespectRobotsTxt        bool                    `yaml:"respect_robots_txt,omitempty"`
	ReplaceOnEmpty          bool                    `yaml:"replace_on_empty,omitempty"`
	StateDir                string                  `yaml:"state_dir"`
	ListenAddr              string                  `yaml:"listen_addr,omitempty"`
	HTTPClientSettings      HTTPClientConfig        `yaml:"http_client_settings,omitempty"`
	Storage                 StorageConfig           `yaml:"storage"`
	Eligibility             EligibilityConfig       `yaml:"eligibility,omitempty"`
	Sources                 map[string]SourceConfig `yaml:"sources"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// IsSourceEnabled reports whether a source takes part in "all" imports.
func IsSourceEnabled(srcCfg SourceConfig) bool {
	return srcCfg.Enabled == nil || *srcCfg.Enabled
}

// GetEffectiveWorkers determines the detail-fetch pool size for a source
func GetEffectiveWorkers(srcCfg SourceConfig, appCfg AppConfig) int {
	if srcCfg.NumWorkers > 0 {
		return srcCfg.NumWorkers
	}
	return appCfg.NumWorkers
}

// GetEffectiveCrawlTimeout determines the cancellation boundary for one source crawl
func GetEffectiveCrawlTimeout(srcCfg SourceConfig, appCfg AppConfig) time.Duration {
	if srcCfg.CrawlTimeout > 0 {
		return srcCfg.CrawlTimeout
	}
	return appCfg.CrawlTimeout
}

// GetEffectiveUserAgent picks the source override, then the global one, then the browser default
func GetEffectiveUserAgent(srcCfg SourceConfig, appCfg AppConfig) string {
	if srcCfg.UserAgent != "" {
		return srcCfg.UserAgent
	}
	if appCfg.UserAgent != "" {
		return appCfg.UserAgent
	}
	return DefaultUserAgent
}
