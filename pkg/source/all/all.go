// Package all wires the configured listing sites into a source.Registry.
package all

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/fetch"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source/gallito"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source/infocasas"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source/mercadolibre"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Known returns the aliases this build can crawl, sorted.
func Known() []string {
	aliases := []string{gallito.Alias, mercadolibre.Alias, infocasas.Alias}
	sort.Strings(aliases)
	return aliases
}

// NewDocumentFetcher builds the shared HTTP stack from the application config:
// client, retrying fetcher, host gate and the optional robots.txt guard.
func NewDocumentFetcher(appCfg *config.AppConfig, log *logrus.Entry) *fetch.DocumentFetcher {
	client := fetch.NewClient(appCfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(client, fetch.RetryPolicy{
		MaxRetries: appCfg.MaxRetries,
		Delay:      appCfg.RetryDelay,
	}, log)

	gate := fetch.NewHostGate(fetch.GateSettings{
		MaxRequests:        appCfg.MaxRequests,
		MaxRequestsPerHost: appCfg.MaxRequestsPerHost,
		RequestsPerSecond:  appCfg.RequestsPerSecond,
		AcquireTimeout:     appCfg.SemaphoreAcquireTimeout,
	}, log)

	userAgent := appCfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	var robots *fetch.RobotsGuard
	if appCfg.RespectRobotsTxt {
		robots = fetch.NewRobotsGuard(fetcher, userAgent, log)
	}

	return fetch.NewDocumentFetcher(fetcher, fetch.DocumentFetcherOptions{
		Gate:            gate,
		Robots:          robots,
		UserAgent:       userAgent,
		MaxRedirectHops: appCfg.MaxRedirectHops,
	}, log)
}

// NewRegistry creates one adapter per configured source. A configured alias
// this build does not know is an error wrapping utils.ErrUnknownSource; a
// source config that fails validation is an error wrapping utils.ErrConfigValidation.
func NewRegistry(appCfg *config.AppConfig, df *fetch.DocumentFetcher, log *logrus.Entry) (*source.Registry, error) {
	aliases := make([]string, 0, len(appCfg.Sources))
	for alias := range appCfg.Sources {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	adapters := make([]source.Adapter, 0, len(aliases))
	for _, alias := range aliases {
		srcCfg := appCfg.Sources[alias]
		warnings, err := srcCfg.Validate()
		if err != nil {
			return nil, fmt.Errorf("source '%s': %w", alias, err)
		}
		for _, w := range warnings {
			log.WithField("source", alias).Warn(w)
		}

		sf := df.WithUserAgent(config.GetEffectiveUserAgent(srcCfg, *appCfg))
		switch alias {
		case gallito.Alias:
			adapters = append(adapters, gallito.New(srcCfg, sf, log))
		case mercadolibre.Alias:
			adapters = append(adapters, mercadolibre.New(srcCfg, sf, log))
		case infocasas.Alias:
			adapters = append(adapters, infocasas.New(srcCfg, sf, appCfg.MaxProbePages, log))
		default:
			return nil, fmt.Errorf("%w: source '%s' is configured but not supported. Available sources: %v", utils.ErrUnknownSource, alias, Known())
		}
	}
	return source.NewRegistry(adapters...)
}
