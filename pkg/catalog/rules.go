package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// now is replaced in tests.
var now = time.Now

// Text stores the first capture group of pattern under key.
func Text(key, pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return RuleFunc(func(fragment string) (models.Features, bool, error) {
		m := re.FindStringSubmatch(fragment)
		if m == nil {
			return nil, false, nil
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			return nil, true, fmt.Errorf("%w: empty value for %s", utils.ErrParsing, key)
		}
		return models.Features{key: value}, true, nil
	})
}

// Int stores the first capture group of pattern as an integer under key.
// Dots are thousands separators.
func Int(key, pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return RuleFunc(func(fragment string) (models.Features, bool, error) {
		m := re.FindStringSubmatch(fragment)
		if m == nil {
			return nil, false, nil
		}
		n, err := parseInt(m[1])
		if err != nil {
			return nil, true, err
		}
		return models.Features{key: n}, true, nil
	})
}

// Money stores a money value under key. pattern must capture the currency
// symbol and the amount, in that order.
func Money(key, pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return RuleFunc(func(fragment string) (models.Features, bool, error) {
		m := re.FindStringSubmatch(fragment)
		if m == nil {
			return nil, false, nil
		}
		money, err := models.ParseMoney(m[1] + " " + m[2])
		if err != nil {
			return nil, true, err
		}
		return models.Features{key: money}, true, nil
	})
}

// Year stores a construction year under key. The captured number is taken as
// an age in years unless it already looks like a year.
func Year(key, pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return RuleFunc(func(fragment string) (models.Features, bool, error) {
		m := re.FindStringSubmatch(fragment)
		if m == nil {
			return nil, false, nil
		}
		n, err := parseInt(m[1])
		if err != nil {
			return nil, true, err
		}
		if n < 1000 {
			n = now().Year() - n
		}
		return models.Features{key: n}, true, nil
	})
}

// Flag sets values when the fragment equals one of words, ignoring case and accents.
func Flag(values models.Features, words ...string) Rule {
	vocabulary := make(map[string]struct{}, len(words))
	for _, w := range words {
		vocabulary[utils.FoldText(w)] = struct{}{}
	}
	return RuleFunc(func(fragment string) (models.Features, bool, error) {
		if _, ok := vocabulary[utils.FoldText(fragment)]; !ok {
			return nil, false, nil
		}
		out := make(models.Features, len(values))
		for k, v := range values {
			out[k] = v
		}
		return out, true, nil
	})
}

// Has is Flag for a single boolean feature.
func Has(key string, words ...string) Rule {
	return Flag(models.Features{key: true}, words...)
}

func parseInt(text string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(text), ".", ""))
	if err != nil {
		return 0, fmt.Errorf("%w: integer '%s': %v", utils.ErrParsing, text, err)
	}
	return n, nil
}
