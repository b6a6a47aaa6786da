// Package catalog turns free-text feature fragments into typed features
// using ordered, source-specific rules.
package catalog

import (
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Rule recognises a fragment. ok is false when the rule does not apply.
// A non-nil err means the rule claimed the fragment but could not convert it;
// the fragment is then kept in extras.
type Rule interface {
	Apply(fragment string) (values models.Features, ok bool, err error)
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(fragment string) (models.Features, bool, error)

// Apply calls f.
func (f RuleFunc) Apply(fragment string) (models.Features, bool, error) {
	return f(fragment)
}

// Rules is an ordered rule set; the first matching rule wins.
type Rules []Rule

// Catalog applies rules to each fragment. Fragments no rule recognises, or
// whose rule failed, are collected under models.FeatureExtras in input order.
// Blank fragments are ignored.
func Catalog(fragments []string, rules Rules) models.Features {
	features := models.Features{}
	var extras []string

	for _, raw := range fragments {
		fragment := utils.CleanText(raw)
		if fragment == "" {
			continue
		}

		claimed := false
		for _, rule := range rules {
			values, ok, err := rule.Apply(fragment)
			if !ok {
				continue
			}
			claimed = true
			if err != nil {
				extras = append(extras, fragment)
				break
			}
			for k, v := range values {
				features[k] = v
			}
			break
		}
		if !claimed {
			extras = append(extras, fragment)
		}
	}

	if len(extras) > 0 {
		features[models.FeatureExtras] = extras
	}
	return features
}
