package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"
)

// FailureClass is the taxonomy every fetch failure is sorted into. The
// orchestrator's retry decisions key off the class, not the raw error.
type FailureClass string

const (
	FailureRateLimit FailureClass = "RATE_LIMIT"
	FailureTimeout   FailureClass = "TIMEOUT"
	FailureNoData    FailureClass = "NO_DATA"
	FailureOther     FailureClass = "OTHER"
)

// ErrNoData marks a symbol the provider has no record of. Terminal for the
// entity within a run.
var ErrNoData = errors.New("no data for symbol")

// ClassifiedError wraps a provider error with its failure class and origin.
type ClassifiedError struct {
	Class    FailureClass
	Provider string
	Symbol   string
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Class, e.Provider, e.Symbol, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx HTTP response from a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ClassOf extracts the failure class from an error chain. Unclassified
// errors are OTHER.
func ClassOf(err error) FailureClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return FailureOther
}

// rateLimitPhrases are fragments providers put in throttling responses that
// arrive without a 429 status.
var rateLimitPhrases = []string{
	"rate limit",
	"too many requests",
	"call frequency",
	"requests per minute",
	"quota exceeded",
}

// Classify sorts a provider error into the failure taxonomy. Errors that are
// already classified pass through unchanged.
func Classify(provider, symbol string, err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	ce = &ClassifiedError{Class: FailureOther, Provider: provider, Symbol: symbol, Err: err}

	switch {
	case errors.Is(err, ErrNoData):
		ce.Class = FailureNoData
	case errors.Is(err, context.DeadlineExceeded):
		ce.Class = FailureTimeout
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		// An open breaker means the provider is shedding load; treat it
		// like provider-side throttling so the monitor backs off.
		ce.Class = FailureRateLimit
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			ce.Class = FailureTimeout
			break
		}

		var se *StatusError
		if errors.As(err, &se) {
			switch se.StatusCode {
			case http.StatusTooManyRequests:
				ce.Class = FailureRateLimit
			case http.StatusNotFound:
				ce.Class = FailureNoData
			case http.StatusRequestTimeout, http.StatusGatewayTimeout:
				ce.Class = FailureTimeout
			}
			if ce.Class != FailureOther {
				break
			}
		}

		msg := strings.ToLower(err.Error())
		for _, phrase := range rateLimitPhrases {
			if strings.Contains(msg, phrase) {
				ce.Class = FailureRateLimit
				break
			}
		}
	}

	return ce
}
