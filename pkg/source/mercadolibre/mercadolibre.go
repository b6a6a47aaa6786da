// Package mercadolibre crawls rental houses on mercadolibre.com.uy.
//
// The index reports "N resultados" and pages hold 48 results. Pages after the
// first are addressed by an offset path segment, _Desde_{48*(n-1)+1}, placed
// before the _PriceRange filter segment.
package mercadolibre

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/catalog"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/fetch"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/parse"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Alias is the source name of this adapter.
const Alias = "mercadolibre"

// PageSize is the number of results mercadolibre shows per index page.
const PageSize = 48

const (
	totalResultsSelector = "span.ui-search-search-result__quantity-results"
	postLinkSelector     = "a.ui-search-result__content.ui-search-link"
	postLocationSelector = "span.ui-search-item__group__element.ui-search-item__location"

	titleSelector         = "h1.item-title__primary"
	addressSelector       = "h2.map-address"
	locationSelector      = "h3.map-location"
	currencySelector      = "span.price-tag-symbol"
	amountSelector        = "span.price-tag-fraction"
	departmentSelector    = "ul.vip-navigation-breadcrumb-list li:nth-child(4) a span"
	neighbourhoodSelector = "ul.vip-navigation-breadcrumb-list li:nth-child(5) a span"
	descriptionSelector   = "div.item-description__text p"
	pictureSelector       = "label.gallery__thumbnail img"
	specsSelector         = "ul.specs-list li.specs-item"
	attributesSelector    = "ul.attribute-list li"
	mapScriptMarker       = "sectionDynamicMap"

	offsetAnchor = "_PriceRange"
)

var (
	totalResultsRe = regexp.MustCompile(`([\d.]{1,13}) resultados`)
	postIDRe       = regexp.MustCompile(`MLU-?(\d{2,13})`)
	trackingRe     = regexp.MustCompile(`JM#\S+$`)
	mapCenterRe    = regexp.MustCompile(`center=(-?\d{1,3}(?:\.\d+)?)(?:%2C|,)(-?\d{1,3}(?:\.\d+)?)`)
)

// nearCapitalCanelones lists the Canelones neighbourhoods close enough to Montevideo to keep.
var nearCapitalCanelones = map[string]struct{}{}

func init() {
	for _, n := range []string{
		"Aeropuerto Internacional De Carrasco", "Barra de Carrasco", "Ciudad de la Costa",
		"Lomas de Solymar", "Colinas de Solymar", "El Pinar", "General Líber Seregni",
		"Lagomar", "La Paz", "Médanos de Solymar", "Montes de Solymar", "Parque de Solymar",
		"Paso de Carrasco", "San José de Carrasco", "Shangrilá", "Solymar",
	} {
		nearCapitalCanelones[utils.FoldText(n)] = struct{}{}
	}
}

// Adapter implements source.Adapter for mercadolibre.
type Adapter struct {
	source.Base
}

// New creates the mercadolibre adapter.
func New(cfg config.SourceConfig, fetcher *fetch.DocumentFetcher, log *logrus.Entry) *Adapter {
	return &Adapter{Base: source.NewBase(Alias, cfg, fetcher, log)}
}

// DiscoverPages reads the "N resultados" counter.
func (a *Adapter) DiscoverPages(ctx context.Context, target source.Target) (int, error) {
	doc, err := a.FetchIndex(ctx, target.URL)
	if err != nil {
		return 0, fmt.Errorf("%w: fetching %s: %w", utils.ErrPagination, target.URL, err)
	}

	counter := source.OwnText(doc.Find(totalResultsSelector).First())
	if counter == "" {
		return 0, utils.WrapErrorf(utils.ErrPagination, "cannot find result counter using css query '%s'", totalResultsSelector)
	}
	m := totalResultsRe.FindStringSubmatch(counter)
	if m == nil {
		return 0, utils.WrapErrorf(utils.ErrPagination, "cannot parse result counter '%s'", counter)
	}
	total, err := source.ParseCount(m[1])
	if err != nil {
		return 0, err
	}
	return source.ComputedPageCount(total, a.PageSize(PageSize))
}

// PageURL returns the index URL of page n (1-based).
func PageURL(base string, page, pageSize int) string {
	if page <= 1 {
		return base
	}
	segment := fmt.Sprintf("_Desde_%d", pageSize*(page-1)+1)
	if i := strings.Index(base, offsetAnchor); i >= 0 {
		return base[:i] + segment + base[i:]
	}
	out, err := parse.AppendPath(base, segment)
	if err != nil {
		return base
	}
	return out
}

// HarvestPosts lists the posts of one index page, keeping only Montevideo and
// the Canelones neighbourhoods near the capital.
func (a *Adapter) HarvestPosts(ctx context.Context, target source.Target, page int) ([]models.Post, error) {
	doc, err := a.FetchIndex(ctx, PageURL(target.URL, page, a.PageSize(PageSize)))
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	doc.Find(postLinkSelector).Each(func(_ int, s *goquery.Selection) {
		link := parse.ResolveLink(doc.Url, trackingRe.ReplaceAllString(s.AttrOr("href", ""), "JM"))
		if link == "" {
			return
		}
		location := source.OwnText(s.Find(postLocationSelector).First())
		if !nearCapital(location) {
			a.Log.WithFields(logrus.Fields{"url": link, "location": location}).Debug("Skipping post far from the capital")
			return
		}
		// detail pages always render the map section
		posts = append(posts, models.Post{Link: link, HasGeoMarker: true})
	})
	return posts, nil
}

// nearCapital checks an "address, neighbourhood, department" location line.
func nearCapital(location string) bool {
	parts := strings.Split(location, ", ")
	if len(parts) != 3 {
		return false
	}
	switch utils.FoldText(parts[2]) {
	case "montevideo":
		return true
	case "canelones":
		_, ok := nearCapitalCanelones[utils.FoldText(parts[1])]
		return ok
	}
	return false
}

// ExtractListing reads a mercadolibre detail page.
func (a *Adapter) ExtractListing(ctx context.Context, post models.Post, doc *goquery.Document) (*models.Listing, error) {
	log := a.Log.WithField("url", post.Link)
	x := source.NewExtractor(doc, log)

	m := postIDRe.FindStringSubmatch(post.Link)
	if m == nil {
		return nil, utils.WrapErrorf(utils.ErrParsing, "no post id in %s", post.Link)
	}
	id := m[1]
	log = log.WithField("house_id", id)

	price, err := source.ParsePrice(x.OwnText("currency", currencySelector)+" "+x.OwnText("amount", amountSelector), log)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", id, err)
	}

	var address string
	if street, place := x.OwnText("address", addressSelector), x.OwnText("location", locationSelector); street != "" && place != "" {
		address = street + ", " + place
	}

	listing := &models.Listing{
		Source:        Alias,
		SourceID:      Alias + "-" + id,
		Title:         x.OwnText("title", titleSelector),
		Link:          post.Link,
		Address:       address,
		Price:         price,
		Department:    x.Text("department", departmentSelector),
		Neighbourhood: x.OwnText("neighbourhood", neighbourhoodSelector),
		Description:   x.Description(descriptionSelector),
		Pictures:      x.Attrs(pictureSelector, "src"),
		Features:      catalog.Catalog(featureFragments(doc), catalog.MercadoLibreRules()),
	}

	if post.HasGeoMarker {
		listing.GeoReference = mapCenter(doc, log)
	}
	return listing, nil
}

// featureFragments flattens the attribute table into "Key: value" fragments and
// appends the attribute list.
func featureFragments(doc *goquery.Document) []string {
	var fragments []string
	doc.Find(specsSelector).Each(func(_ int, s *goquery.Selection) {
		key := source.OwnText(s.Find("strong").First())
		value := source.OwnText(s.Find("span").First())
		if key == "" || value == "" {
			return
		}
		fragments = append(fragments, strings.TrimSuffix(key, ":")+": "+value)
	})
	doc.Find(attributesSelector).Each(func(_ int, s *goquery.Selection) {
		if t := source.OwnText(s); t != "" {
			fragments = append(fragments, t)
		}
	})
	return fragments
}

// mapCenter reads the static map center from the inline map script.
func mapCenter(doc *goquery.Document, log *logrus.Entry) *models.GeoPoint {
	var point *models.GeoPoint
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		body := s.Text()
		if !strings.Contains(body, mapScriptMarker) {
			return true
		}
		m := mapCenterRe.FindStringSubmatch(body)
		if m == nil {
			return true
		}
		p, err := models.ParseGeoPoint(m[1] + "," + m[2])
		if err != nil {
			log.Warnf("Cannot parse location: %v", err)
			return true
		}
		point = p
		return false
	})
	if point == nil {
		log.Warn("Cannot find map script with location")
	}
	return point
}
