package source

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/fetch"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Base carries what every adapter needs: its alias, configuration, fetcher and logger.
type Base struct {
	Name    string
	Config  config.SourceConfig
	Fetcher *fetch.DocumentFetcher
	Log     *logrus.Entry
}

// NewBase creates a Base whose logger is tagged with the alias.
func NewBase(alias string, cfg config.SourceConfig, fetcher *fetch.DocumentFetcher, log *logrus.Entry) Base {
	return Base{
		Name:    alias,
		Config:  cfg,
		Fetcher: fetcher,
		Log:     log.WithField("source", alias),
	}
}

// Alias returns the source name.
func (b *Base) Alias() string { return b.Name }

// Targets expands the configured URL template.
func (b *Base) Targets() ([]Target, error) {
	return ExpandTargets(b.Config.URLTemplate, b.Config.Params)
}

// PageSize returns the configured page size, then the "pageSize" template
// parameter, then def.
func (b *Base) PageSize(def int) int {
	if b.Config.PageSize > 0 {
		return b.Config.PageSize
	}
	if v, ok := b.Config.Params["pageSize"]; ok {
		if n, err := strconv.Atoi(v.First()); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// FetchIndex fetches an index page, logging failures with their category.
func (b *Base) FetchIndex(ctx context.Context, url string) (*goquery.Document, error) {
	doc, err := b.Fetcher.FetchDocument(ctx, url)
	if err != nil {
		b.Log.WithFields(logrus.Fields{
			"url":            url,
			"error_category": utils.CategorizeError(err),
		}).Warnf("Error while fetching index page: %v", err)
		return nil, err
	}
	return doc, nil
}

var priceRe = regexp.MustCompile(`^([^\d\s]+)\s*(\d[\d.,]*)`)

// ParsePrice reads a listed price such as "$U 25.000" or "U$S1.200".
// An unknown currency symbol is returned as an error so the record can be
// dropped. Text without a recognisable amount yields a zero price and a warning.
func ParsePrice(text string, log *logrus.Entry) (models.Money, error) {
	text = utils.CleanText(text)
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		if text != "" {
			log.WithField("price", text).Warn("Cannot parse price")
		}
		return models.Money{}, nil
	}
	money, err := models.ParseMoney(m[1] + " " + m[2])
	if err != nil {
		if errors.Is(err, utils.ErrUnknownCurrency) {
			return models.Money{}, err
		}
		log.WithField("price", text).Warnf("Cannot parse price: %v", err)
		return models.Money{}, nil
	}
	return money, nil
}

// TitleCase turns a URL parameter such as "montevideo" or "san-jose" into a display name.
func TitleCase(param string) string {
	// a Caser keeps state, so one is built per call
	return cases.Title(language.Spanish).String(strings.ReplaceAll(param, "-", " "))
}
