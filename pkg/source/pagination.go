package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// ComputedPageCount returns ceil(total/pageSize). A total of zero means no pages.
func ComputedPageCount(total, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("%w: page size must be positive, got %d", utils.ErrPagination, pageSize)
	}
	if total < 0 {
		return 0, fmt.Errorf("%w: negative result count %d", utils.ErrPagination, total)
	}
	return (total + pageSize - 1) / pageSize, nil
}

// ProbeFunc inspects index page n and reports whether a "next page" control
// exists and the highest page number visible in the pager.
type ProbeFunc func(ctx context.Context, page int) (hasNext bool, highestVisible int, err error)

// ProbePageCount walks the pager starting at page 1. While a next control is
// shown it jumps to the highest visible page; once it is gone the count is the
// highest visible page plus one, the current page not being listed as a
// number link. A jump that does not move forward, or more than maxProbes
// probes, fails with ErrPagination.
func ProbePageCount(ctx context.Context, probe ProbeFunc, maxProbes int) (int, error) {
	if maxProbes <= 0 {
		maxProbes = 1
	}
	current := 1
	for probes := 1; ; probes++ {
		if probes > maxProbes {
			return 0, fmt.Errorf("%w: pager still open after %d probes", utils.ErrPagination, maxProbes)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		hasNext, highest, err := probe(ctx, current)
		if err != nil {
			return 0, fmt.Errorf("%w: probing page %d: %w", utils.ErrPagination, current, err)
		}
		if !hasNext {
			return highest + 1, nil
		}
		if highest <= current {
			return 0, fmt.Errorf("%w: pager does not advance past page %d", utils.ErrPagination, current)
		}
		current = highest
	}
}

// ParseCount parses a result counter such as "1.234" or "1,234".
func ParseCount(text string) (int, error) {
	cleaned := strings.NewReplacer(".", "", ",", "", " ", "").Replace(strings.TrimSpace(text))
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: result count '%s'", utils.ErrPagination, text)
	}
	return n, nil
}
