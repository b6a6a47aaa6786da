// Package gallito crawls rental houses on gallito.com.uy.
//
// The index shows the total result count, so the page count is computed.
// Pages are selected with the "pag" query parameter.
package gallito

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

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
const Alias = "gallito"

// DefaultPageSize is used when neither page_size nor the pageSize param is set.
const DefaultPageSize = 80

const (
	totalPostsSelector = "li#resultados strong"
	postSelector       = "div.img-responsive.aviso-ico-contiene"
	postLinkSelector   = "img.img-seva.img-responsive"
	postGPSSelector    = "span img[src='/img/gpsicon.png']"
	postVideoSelector  = "span img[src='/img/camicon.png']"

	idSelector           = "input#HfCodigoAviso"
	titleSelector        = "div#div_datosBasicos h1.titulo"
	addressSelector      = "div#div_datosBasicos h2.direccion"
	phoneSelector        = "input#HfTelefono"
	priceSelector        = "div#div_datosBasicos div.wrapperFavorito span.precio"
	departmentSelector   = "nav.breadcrumb-w100 li.breadcrumb-item:nth-child(5) a"
	neighbourhoodSel     = "nav.breadcrumb-w100 li.breadcrumb-item:nth-child(6) a"
	descriptionSelector  = "section#descripcion div.p-3 p"
	warrantiesSelector   = "section#garantias div.p-3 ul#ul_garantias li.list-group-item.border-0"
	gallerySelector      = "div#galeria div.carousel-item.item a"
	gpsSelector          = "div#ubicacion iframe#iframeMapa"
	videoSelector        = "div#video iframe#iframe_video"
	featuresSelector     = "section#caracteristicas div.p-3 ul#ul_caracteristicas li.list-group-item.border-0"
	bedroomIconSelector  = "div.wrapperDatos div.iconoDatos.rounded-circle i.fas.fa-bed"
	redirectTitle        = "Object moved"
	redirectLinkSelector = "h2 a"
)

var totalPostsRe = regexp.MustCompile(`de ([\d.]{1,13})`)

// softRedirect recognises the "Object moved" stub gallito serves for some posts.
var softRedirect = fetch.SoftRedirect{
	Detect: func(doc *goquery.Document) bool {
		return source.OwnText(doc.Find("head title").First()) == redirectTitle
	},
	Target: func(doc *goquery.Document) string {
		return doc.Find(redirectLinkSelector).First().AttrOr("href", "")
	},
}

// Adapter implements source.Adapter for gallito.
type Adapter struct {
	source.Base
}

// New creates the gallito adapter.
func New(cfg config.SourceConfig, fetcher *fetch.DocumentFetcher, log *logrus.Entry) *Adapter {
	return &Adapter{Base: source.NewBase(Alias, cfg, fetcher, log)}
}

// DiscoverPages reads the "x - y de N" counter and divides by the page size.
func (a *Adapter) DiscoverPages(ctx context.Context, target source.Target) (int, error) {
	doc, err := a.FetchIndex(ctx, target.URL)
	if err != nil {
		return 0, fmt.Errorf("%w: fetching %s: %w", utils.ErrPagination, target.URL, err)
	}

	counter := source.OwnText(doc.Find(totalPostsSelector).First())
	if counter == "" {
		return 0, utils.WrapErrorf(utils.ErrPagination, "cannot find result counter using css query '%s'", totalPostsSelector)
	}
	m := totalPostsRe.FindStringSubmatch(counter)
	if m == nil {
		return 0, utils.WrapErrorf(utils.ErrPagination, "cannot parse result counter '%s'", counter)
	}
	total, err := source.ParseCount(m[1])
	if err != nil {
		return 0, err
	}
	return source.ComputedPageCount(total, a.PageSize(DefaultPageSize))
}

// HarvestPosts lists the posts of one index page with their map and video hints.
func (a *Adapter) HarvestPosts(ctx context.Context, target source.Target, page int) ([]models.Post, error) {
	pageURL, err := parse.WithQueryParam(target.URL, "pag", strconv.Itoa(page))
	if err != nil {
		return nil, err
	}
	doc, err := a.FetchIndex(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	doc.Find(postSelector).Each(func(_ int, s *goquery.Selection) {
		img := s.Find(postLinkSelector).First()
		link := parse.ResolveLink(doc.Url, img.AttrOr("alt", ""))
		if link == "" {
			link = parse.ResolveLink(doc.Url, s.Find("a[href]").First().AttrOr("href", ""))
		}
		if link == "" {
			a.Log.WithField("page", page).Debug("Skipping post without link")
			return
		}
		posts = append(posts, models.Post{
			Link:         link,
			HasGeoMarker: s.Find(postGPSSelector).Length() > 0,
			HasVideo:     s.Find(postVideoSelector).Length() > 0,
		})
	})
	return posts, nil
}

// FetchDetail follows gallito's "Object moved" soft redirects.
func (a *Adapter) FetchDetail(ctx context.Context, post models.Post) (*goquery.Document, error) {
	return a.Fetcher.FetchDocument(ctx, post.Link, fetch.WithSoftRedirect(softRedirect))
}

// ExtractListing reads a gallito detail page.
func (a *Adapter) ExtractListing(ctx context.Context, post models.Post, doc *goquery.Document) (*models.Listing, error) {
	log := a.Log.WithField("url", post.Link)
	x := source.NewExtractor(doc, log)

	id := x.Attr("id", idSelector, "value")
	if id == "" {
		return nil, utils.WrapErrorf(utils.ErrParsing, "no post id in %s", post.Link)
	}
	log = log.WithField("house_id", id)

	price, err := source.ParsePrice(x.OwnText("price", priceSelector), log)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", id, err)
	}

	fragments := x.OwnTexts(featuresSelector)
	if bedrooms := source.OwnText(doc.Find(bedroomIconSelector).First().Parent().Next()); bedrooms != "" {
		fragments = append(fragments, bedrooms)
	}

	listing := &models.Listing{
		Source:        Alias,
		SourceID:      Alias + "-" + id,
		Title:         x.OwnText("title", titleSelector),
		Link:          post.Link,
		Address:       x.OwnText("address", addressSelector),
		Phone:         x.Attr("phone", phoneSelector, "value"),
		Price:         price,
		Department:    x.OwnText("department", departmentSelector),
		Neighbourhood: x.OwnText("neighbourhood", neighbourhoodSel),
		Description:   x.Description(descriptionSelector),
		Pictures:      x.Attrs(gallerySelector, "href"),
		Warranties:    x.OwnTexts(warrantiesSelector),
		Features:      catalog.Catalog(fragments, catalog.GallitoRules()),
	}

	if post.HasGeoMarker {
		src := x.Attr("location", gpsSelector, "src")
		if point, err := models.ParseGeoPoint(parse.QueryParam(src, "q")); err == nil {
			listing.GeoReference = point
		} else {
			log.Warnf("Cannot parse location: %v", err)
		}
	}
	if post.HasVideo {
		listing.VideoLink = x.Attr("video", videoSelector, "src")
	}
	return listing, nil
}
