package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrTransport        = errors.New("transport error")                 // DNS, connect, TLS, timeout: no HTTP response obtained
	ErrHTTPStatus       = errors.New("unexpected HTTP status")          // Wrapped by HTTPStatusError
	ErrDecompress       = errors.New("gzip decompression failed")       // Malformed .xml.gz body
	ErrRender           = errors.New("rendered fetch failed")           // Browser automation failure
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrParsing          = errors.New("parsing error")                   // Wraps specific parsing error (URL, XML, robots)
	ErrFilesystem       = errors.New("filesystem error")                // Wraps os errors
	ErrDatabase         = errors.New("database error")                  // Wraps badger errors
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// HTTPStatusError reports a completed HTTP exchange with a non-2xx status
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: status %d %s for %s", ErrHTTPStatus, e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Unwrap lets errors.Is match ErrHTTPStatus
func (e *HTTPStatusError) Unwrap() error { return ErrHTTPStatus }

// NewHTTPStatusError builds an HTTPStatusError for the given URL and status code
func NewHTTPStatusError(url string, statusCode int) error {
	return &HTTPStatusError{URL: url, StatusCode: statusCode}
}

// StatusCodeOf extracts the HTTP status from an error chain, or 0 if none is present
func StatusCodeOf(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// WrapErrorf wraps err with a formatted message, returning nil if err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrRetryFailed):
		// Inspect err itself: a multi-%w wrap has no single Unwrap.
		if errors.Is(err, ErrHTTPStatus) {
			if StatusCodeOf(err) >= 500 {
				return "RetryFailed_HTTPServer"
			}
			return "RetryFailed_HTTPClient"
		}
		if err == ErrRetryFailed {
			return "RetryFailed_Unknown"
		}
		errMsg := err.Error()
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "Timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "RetryFailed_NetworkTimeout"
		}
		if strings.Contains(errMsg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		if strings.Contains(errMsg, "no such host") {
			return "RetryFailed_DNSLookup"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "RetryFailed_NetworkTimeout"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrHTTPStatus):
		code := StatusCodeOf(err)
		switch {
		case code == http.StatusForbidden:
			return "HTTP_403"
		case code == http.StatusNotFound:
			return "HTTP_404"
		case code == http.StatusUnauthorized:
			return "HTTP_401"
		case code == http.StatusTooManyRequests:
			return "HTTP_429"
		case code >= 500:
			return "HTTP_5xx"
		case code >= 400:
			return "HTTP_4xx"
		}
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRender):
		if errors.Is(err, context.DeadlineExceeded) {
			return "Render_Timeout"
		}
		return "Render_Failed"
	case errors.Is(err, ErrDecompress):
		return "Content_Decompress"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "XML") {
			return "Content_ParsingXML"
		}
		if strings.Contains(errMsg, "robots") {
			return "Content_ParsingRobots"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	// Network errors, wrapped by ErrTransport or bare
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "broken pipe"):
		return "Network_BrokenPipe"
	}

	if errors.Is(err, ErrTransport) {
		return "Network_Other"
	}
	return "Unknown"
}
