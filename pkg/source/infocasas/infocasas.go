// Package infocasas crawls rental houses on infocasas.com.uy.
//
// The index shows no result count, so the page count is probed by walking
// the pager. Pages are addressed by a /paginaN path suffix.
package infocasas

import (
	"context"
	"fmt"
	"strconv"
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
const Alias = "infocasas"

// DefaultMaxProbes bounds pager walking when no limit is configured.
const DefaultMaxProbes = 200

const (
	nextPageSelector   = "a[title='Página Siguiente'].next"
	pageNumberSelector = "a.numbers"
	postSelector       = "a.holder-link.checkMob"

	idSelector            = "i.icon-heart.animatable"
	titleSelector         = "h1.likeh2.titulo.one-line-txt"
	phoneSelector         = "span.lineInmo"
	priceSelector         = "p.precio-final"
	departmentSelector    = "a.part-breadcrumbs:nth-child(4)"
	neighbourhoodSelector = "a.part-breadcrumbs:nth-child(10)"
	descriptionSelector   = "div#descripcion p"
	hiddenDataSelector    = "div#descripcion p span[data-hidden-dato]"
	warrantiesSelector    = "div#garantias p"
	gallerySelector       = "div#slickAmpliadas img.imageBig"
	sheetSelector         = "div.ficha-tecnica div.lista"
	sheetTitleSelector    = "div.dato.auto-q.nicer-title"

	departmentParam = "department"
)

// Adapter implements source.Adapter for infocasas.
type Adapter struct {
	source.Base
	maxProbes int
}

// New creates the infocasas adapter. maxProbes <= 0 uses DefaultMaxProbes.
func New(cfg config.SourceConfig, fetcher *fetch.DocumentFetcher, maxProbes int, log *logrus.Entry) *Adapter {
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}
	return &Adapter{Base: source.NewBase(Alias, cfg, fetcher, log), maxProbes: maxProbes}
}

func pageURL(base string, page int) (string, error) {
	return parse.AppendPath(base, fmt.Sprintf("pagina%d", page))
}

// DiscoverPages walks the pager until the "next page" control disappears.
func (a *Adapter) DiscoverPages(ctx context.Context, target source.Target) (int, error) {
	probe := func(ctx context.Context, page int) (bool, int, error) {
		u, err := pageURL(target.URL, page)
		if err != nil {
			return false, 0, err
		}
		doc, err := a.FetchIndex(ctx, u)
		if err != nil {
			return false, 0, err
		}
		hasNext := doc.Find(nextPageSelector).Length() > 0
		highest := 0
		doc.Find(pageNumberSelector).Each(func(_ int, s *goquery.Selection) {
			if n, err := strconv.Atoi(source.OwnText(s)); err == nil && n > highest {
				highest = n
			}
		})
		a.Log.WithFields(logrus.Fields{"page": page, "has_next": hasNext, "highest_visible": highest}).Debug("Probed pager")
		return hasNext, highest, nil
	}
	return source.ProbePageCount(ctx, probe, a.maxProbes)
}

// HarvestPosts lists the posts of one index page, tagged with the searched
// department. Links leaving the site are ignored.
func (a *Adapter) HarvestPosts(ctx context.Context, target source.Target, page int) ([]models.Post, error) {
	u, err := pageURL(target.URL, page)
	if err != nil {
		return nil, err
	}
	doc, err := a.FetchIndex(ctx, u)
	if err != nil {
		return nil, err
	}

	department := source.TitleCase(target.Params[departmentParam])
	var posts []models.Post
	doc.Find(postSelector).Each(func(_ int, s *goquery.Selection) {
		link := parse.ResolveLink(doc.Url, s.AttrOr("href", ""))
		if link == "" || !sameHost(link, doc) {
			return
		}
		posts = append(posts, models.Post{Link: link, Department: department})
	})
	return posts, nil
}

func sameHost(link string, doc *goquery.Document) bool {
	if doc.Url == nil {
		return true
	}
	return strings.HasPrefix(link, doc.Url.Scheme+"://"+doc.Url.Host+"/")
}

// ExtractListing reads an infocasas detail page. Infocasas publishes no street
// address, so the neighbourhood stands in for it.
func (a *Adapter) ExtractListing(ctx context.Context, post models.Post, doc *goquery.Document) (*models.Listing, error) {
	log := a.Log.WithField("url", post.Link)
	x := source.NewExtractor(doc, log)

	id := x.Attr("id", idSelector, "data-id")
	if id == "" {
		return nil, utils.WrapErrorf(utils.ErrParsing, "no post id in %s", post.Link)
	}
	log = log.WithField("house_id", id)

	price, err := source.ParsePrice(x.OwnText("price", priceSelector), log)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", id, err)
	}

	// the search parameter names the department reliably; the breadcrumb is
	// the fallback for posts that were not harvested from a search
	department := post.Department
	if department == "" {
		department = x.OwnText("department", departmentSelector)
	}

	neighbourhood := x.OwnText("neighbourhood", neighbourhoodSelector)
	return &models.Listing{
		Source:        Alias,
		SourceID:      Alias + "-" + id,
		Title:         x.OwnText("title", titleSelector),
		Link:          post.Link,
		Address:       neighbourhood,
		Phone:         firstWord(x.OwnText("phone", phoneSelector)),
		Price:         price,
		Department:    department,
		Neighbourhood: neighbourhood,
		Description:   description(doc),
		Pictures:      x.Attrs(gallerySelector, "src"),
		Warranties:    x.OwnTexts(warrantiesSelector),
		Features:      catalog.Catalog(sheetFragments(doc), catalog.InfocasasRules()),
	}, nil
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// description joins the visible paragraphs with the text infocasas hides in data attributes.
func description(doc *goquery.Document) string {
	var parts []string
	doc.Find(descriptionSelector).Each(func(_ int, s *goquery.Selection) {
		if t := source.OwnText(s); t != "" {
			parts = append(parts, t)
		}
	})
	doc.Find(hiddenDataSelector).Each(func(_ int, s *goquery.Selection) {
		if t := utils.CleanText(s.AttrOr("data-hidden-dato", "")); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

// sheetFragments turns the technical sheet rows into "Key: value" fragments,
// skipping section titles.
func sheetFragments(doc *goquery.Document) []string {
	var fragments []string
	doc.Find(sheetSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(sheetTitleSelector).Length() > 0 {
			return
		}
		key := source.OwnText(s.Find("p").First())
		value := source.OwnText(s.Find("div.dato").First())
		if key == "" || value == "" {
			return
		}
		fragments = append(fragments, strings.TrimSuffix(key, ":")+": "+value)
	})
	return fragments
}
