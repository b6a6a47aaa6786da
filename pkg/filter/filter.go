// Package filter holds the eligibility predicates applied to extracted listings.
package filter

import (
	"strings"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Rule names, as reported by Chain.Evaluate.
const (
	RuleValid             = "valid"
	RuleSafeNeighbourhood = "safe_neighbourhood"
	RuleNearCapital       = "near_capital"
	RuleAvailable         = "available"
	RuleFamilyFriendly    = "family_friendly"
	RuleHasPictures       = "has_pictures"
	RuleAllowsPets        = "allows_pets"
	RulePriceCeiling      = "price_ceiling"
	RuleMinArea           = "min_area"
)

// Predicate reports whether a listing passes one check.
type Predicate func(l *models.Listing) bool

// Named pairs a predicate with the name used in logs.
type Named struct {
	Name  string
	Check Predicate
}

// Chain is an ordered list of predicates; a listing is accepted only if all pass.
type Chain []Named

// Evaluate returns the name of the first failing predicate, or "" if the listing passes.
func (c Chain) Evaluate(l *models.Listing) string {
	for _, p := range c {
		if !p.Check(l) {
			return p.Name
		}
	}
	return ""
}

// Accept reports whether the listing passes every predicate.
func (c Chain) Accept(l *models.Listing) bool {
	return c.Evaluate(l) == ""
}

// Names lists the predicate names in evaluation order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, p := range c {
		names[i] = p.Name
	}
	return names
}

// NewChain builds the canonical chain from cfg. The price ceiling and
// minimum area checks are appended only when configured.
func NewChain(cfg config.EligibilityConfig) Chain {
	chain := Chain{
		{RuleValid, IsValid},
		{RuleSafeNeighbourhood, InSafeNeighbourhood(cfg.UnsafeNeighbourhoods)},
		{RuleNearCapital, NearCapital(cfg.AcceptedDepartments)},
		{RuleAvailable, TitleLacks(cfg.UnavailableKeywords)},
		{RuleFamilyFriendly, TitleLacks(cfg.AdultKeywords)},
		{RuleHasPictures, HasUsablePictures(cfg.PlaceholderImages)},
		{RuleAllowsPets, DescriptionLacks(cfg.NoPetsPhrases)},
	}
	if len(cfg.MaxPrice) > 0 {
		chain = append(chain, Named{RulePriceCeiling, PriceBelow(cfg.MaxPrice)})
	}
	if cfg.MinAreaSqMeters > 0 {
		chain = append(chain, Named{RuleMinArea, AreaAbove(cfg.MinAreaSqMeters)})
	}
	return chain
}

// IsValid checks the structural invariants of a listing.
func IsValid(l *models.Listing) bool {
	return l.IsValid()
}

// InSafeNeighbourhood rejects listings whose neighbourhood is on the unsafe
// list of their department. Comparison ignores case and accents.
func InSafeNeighbourhood(unsafe map[string][]string) Predicate {
	index := make(map[string]map[string]struct{}, len(unsafe))
	for dept, names := range unsafe {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[utils.FoldText(n)] = struct{}{}
		}
		index[utils.FoldText(dept)] = set
	}
	return func(l *models.Listing) bool {
		set, ok := index[utils.FoldText(l.Department)]
		if !ok {
			return true
		}
		_, bad := set[utils.FoldText(l.Neighbourhood)]
		return !bad
	}
}

// NearCapital accepts listings in one of the given departments.
func NearCapital(departments []string) Predicate {
	accepted := make(map[string]struct{}, len(departments))
	for _, d := range departments {
		accepted[utils.FoldText(d)] = struct{}{}
	}
	return func(l *models.Listing) bool {
		_, ok := accepted[utils.FoldText(l.Department)]
		return ok
	}
}

// TitleLacks rejects listings whose title contains any of the words.
func TitleLacks(words []string) Predicate {
	re := utils.CompileWordList(words)
	return func(l *models.Listing) bool {
		return re == nil || !re.MatchString(l.Title)
	}
}

// DescriptionLacks rejects listings whose description contains any of the phrases.
func DescriptionLacks(phrases []string) Predicate {
	re := utils.CompileWordList(phrases)
	return func(l *models.Listing) bool {
		return re == nil || !re.MatchString(utils.CleanText(l.Description))
	}
}

// HasUsablePictures rejects listings with any placeholder picture.
func HasUsablePictures(placeholders []string) Predicate {
	return func(l *models.Listing) bool {
		if len(l.Pictures) == 0 {
			return false
		}
		for _, pic := range l.Pictures {
			for _, ph := range placeholders {
				if ph != "" && strings.Contains(pic, ph) {
					return false
				}
			}
		}
		return true
	}
}

// PriceBelow rejects listings priced at or above the ceiling of their
// currency. Currencies without a ceiling pass.
func PriceBelow(ceilings map[string]int64) Predicate {
	limits := make(map[models.Currency]models.Money, len(ceilings))
	for cur, amount := range ceilings {
		c := models.Currency(strings.ToUpper(cur))
		limits[c] = models.NewMoney(amount, c)
	}
	return func(l *models.Listing) bool {
		limit, ok := limits[l.Price.Currency]
		if !ok {
			return true
		}
		return l.Price.LessThan(limit)
	}
}

// AreaAbove rejects listings whose known area is at or below minSqMeters.
// Listings without an area feature pass.
func AreaAbove(minSqMeters int) Predicate {
	return func(l *models.Listing) bool {
		area, ok := l.Features.SqMeters()
		return !ok || area > minSqMeters
	}
}
