package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

const maxWorkers = 32

var templatePlaceholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// StoreMode
	if c.StoreMode == "" {
		c.StoreMode = string(models.StoreModeManual)
	} else {
		mode, modeErr := models.ParseStoreMode(c.StoreMode)
		if modeErr != nil {
			return warnings, fmt.Errorf("%w: %w", utils.ErrConfigValidation, modeErr)
		}
		c.StoreMode = string(mode)
	}

	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 8")
		c.NumWorkers = 8
	} else if c.NumWorkers > maxWorkers {
		warnings = append(warnings, fmt.Sprintf("num_workers %d is too aggressive for the listing sites, capping at %d", c.NumWorkers, maxWorkers))
		c.NumWorkers = maxWorkers
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 5")
		c.MaxRequestsPerHost = 5
	}

	if c.RequestsPerSecond < 0 {
		warnings = append(warnings, "requests_per_second cannot be negative, defaulting to 4")
		c.RequestsPerSecond = 4
	} else if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 4
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.RetryDelay == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries > 0 && c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}

	if c.MaxRedirectHops <= 0 {
		c.MaxRedirectHops = 5
	}
	if c.MaxProbePages <= 0 {
		c.MaxProbePages = 200
	}

	// CrawlTimeout
	if c.CrawlTimeout < 0 {
		warnings = append(warnings, "crawl_timeout cannot be negative, defaulting to 10m")
		c.CrawlTimeout = 10 * time.Minute
	} else if c.CrawlTimeout == 0 {
		c.CrawlTimeout = 10 * time.Minute
	}

	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './state'")
		c.StateDir = "./state"
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	c.validateHTTPClientSettings()

	storageWarnings, err := c.validateStorage()
	warnings = append(warnings, storageWarnings...)
	if err != nil {
		return warnings, err
	}

	c.Eligibility.applyDefaults()

	if len(c.Sources) == 0 {
		warnings = append(warnings, "no sources configured, nothing will be crawled")
	}

	return warnings, nil
}

// validateStorage applies storage defaults; an unknown driver is fatal.
func (c *AppConfig) validateStorage() (warnings []string, err error) {
	s := &c.Storage
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	switch s.Driver {
	case "":
		warnings = append(warnings, "storage.driver is empty, defaulting to 'badger'")
		s.Driver = "badger"
	case "badger", "sqlite", "postgres":
	default:
		return warnings, fmt.Errorf("%w: unknown storage.driver '%s' (expected badger, sqlite or postgres)", utils.ErrConfigValidation, s.Driver)
	}

	switch s.Driver {
	case "sqlite":
		if s.DSN == "" {
			s.DSN = filepath.Join(c.StateDir, "listings.db")
		}
	case "postgres":
		if s.DSN == "" {
			return warnings, fmt.Errorf("%w: storage.dsn is required for postgres", utils.ErrConfigValidation)
		}
	}
	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.MaxRequestsPerHost
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// applyDefaults fills every unset vocabulary with the built-in list.
// Thresholds stay off unless configured.
func (e *EligibilityConfig) applyDefaults() {
	if e.AcceptedDepartments == nil {
		e.AcceptedDepartments = []string{"Montevideo", "Canelones"}
	}
	if e.UnsafeNeighbourhoods == nil {
		e.UnsafeNeighbourhoods = map[string][]string{
			"Montevideo": {
				"Casavalle", "Nuevo París", "Cerro", "Unión", "Colón", "Peñarol",
				"Paso de la Arena", "Belvedere", "La Paloma", "Punta de Rieles", "Punta Rieles",
			},
		}
	}
	if e.UnavailableKeywords == nil {
		e.UnavailableKeywords = []string{"alquilada", "alquilado"}
	}
	if e.AdultKeywords == nil {
		e.AdultKeywords = []string{"masajista", "eróticas", "eróticos"}
	}
	if e.PlaceholderImages == nil {
		e.PlaceholderImages = []string{"img_nodisponible.jpg"}
	}
	if e.NoPetsPhrases == nil {
		e.NoPetsPhrases = []string{
			"no se aceptan mascotas", "no acepta mascotas", "no se admiten mascotas",
			"no admite mascotas", "sin mascotas", "no mascotas",
		}
	}
}

// Validate checks SourceConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
func (c *SourceConfig) Validate() (warnings []string, err error) {
	if strings.TrimSpace(c.URLTemplate) == "" {
		return nil, fmt.Errorf("%w: source has no url_template", utils.ErrConfigValidation)
	}

	for _, m := range templatePlaceholderRe.FindAllStringSubmatch(c.URLTemplate, -1) {
		values, ok := c.Params[m[1]]
		if !ok || len(values) == 0 {
			return nil, fmt.Errorf("%w: url_template placeholder '{%s}' has no value in params", utils.ErrConfigValidation, m[1])
		}
	}

	probe := templatePlaceholderRe.ReplaceAllString(c.URLTemplate, "x")
	u, parseErr := url.Parse(probe)
	if parseErr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url_template '%s' is not an absolute http(s) URL", utils.ErrConfigValidation, c.URLTemplate)
	}

	if c.PageSize < 0 {
		warnings = append(warnings, "page_size cannot be negative, using the source default")
		c.PageSize = 0
	}
	if c.NumWorkers < 0 {
		warnings = append(warnings, "num_workers cannot be negative, using the global value")
		c.NumWorkers = 0
	} else if c.NumWorkers > maxWorkers {
		warnings = append(warnings, fmt.Sprintf("num_workers capped at %d", maxWorkers))
		c.NumWorkers = maxWorkers
	}
	if c.CrawlTimeout < 0 {
		warnings = append(warnings, "crawl_timeout cannot be negative, using the global value")
		c.CrawlTimeout = 0
	}

	return warnings, nil
}
