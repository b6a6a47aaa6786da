package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrTooManyRedirects = errors.New("too many soft redirects")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrParsing          = errors.New("parsing error") // Wraps specific parsing error (HTML, URL, number)
	ErrPagination       = errors.New("cannot determine page count")
	ErrUnknownCurrency  = errors.New("unknown currency")
	ErrInvalidGeoPoint  = errors.New("invalid geo point")
	ErrUnknownSource    = errors.New("unknown source")
	ErrDatabase         = errors.New("database error")
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
	ErrCrawlTimeout     = errors.New("crawl timed out")
	ErrRunLocked        = errors.New("another crawl holds the run lock")
)

// WrapErrorf wraps a sentinel with a formatted message, keeping errors.Is working on the sentinel.
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		underlying := errors.Unwrap(err)
		if underlying != nil {
			if errors.Is(underlying, ErrServerHTTPError) {
				return "RetryFailed_HTTPServer"
			}
			if errors.Is(underlying, ErrClientHTTPError) {
				return "RetryFailed_HTTPClient"
			}
			errMsg := underlying.Error()
			if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "Timeout") || strings.Contains(errMsg, "deadline exceeded") {
				return "RetryFailed_NetworkTimeout"
			}
			if strings.Contains(errMsg, "connection refused") {
				return "RetryFailed_ConnectionRefused"
			}
			if strings.Contains(errMsg, "no such host") {
				return "RetryFailed_DNSLookup"
			}
			return "RetryFailed_NetworkOther"
		}
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrTooManyRedirects):
		return "Policy_RedirectLimit"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrPagination):
		return "Content_Pagination"
	case errors.Is(err, ErrUnknownCurrency):
		return "Content_Currency"
	case errors.Is(err, ErrInvalidGeoPoint):
		return "Content_GeoPoint"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrUnknownSource):
		return "Config_UnknownSource"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRunLocked):
		return "Resource_RunLocked"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrCrawlTimeout):
		return "System_CrawlTimeout"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
