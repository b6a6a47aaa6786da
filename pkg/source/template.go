package source

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Expand substitutes {name} placeholders with path-escaped values.
// A placeholder without a value is an error.
func Expand(template string, values map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := values[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return url.PathEscape(v)
	})
	if missing != "" {
		return "", fmt.Errorf("%w: no value for placeholder '{%s}'", utils.ErrConfigValidation, missing)
	}
	return out, nil
}

// ExpandTargets builds one Target per combination of the multi-valued
// parameters used by the template. Parameters not used in the template are
// carried with their first value.
func ExpandTargets(template string, params map[string]config.ParamValue) ([]Target, error) {
	used := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		used[m[1]] = true
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []map[string]string{{}}
	for _, name := range names {
		values := params[name]
		if len(values) == 0 {
			continue
		}
		if !used[name] {
			for _, c := range combos {
				c[name] = values.First()
			}
			continue
		}
		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, c := range combos {
			for _, v := range values {
				cp := make(map[string]string, len(c)+1)
				for k, val := range c {
					cp[k] = val
				}
				cp[name] = v
				next = append(next, cp)
			}
		}
		combos = next
	}

	targets := make([]Target, 0, len(combos))
	for _, c := range combos {
		u, err := Expand(template, c)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{URL: u, Params: c})
	}
	return targets, nil
}
