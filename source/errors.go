package source

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrorKind classifies a backend failure for the polling engine.
type ErrorKind int

const (
	// KindTransient covers service and network failures that backing off
	// and retrying can recover from.
	KindTransient ErrorKind = iota
	// KindFatal covers configuration failures (bad credentials, missing
	// queue) that no amount of retrying will fix.
	KindFatal
)

func (k ErrorKind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "transient"
}

// BackendError wraps a queue backend failure with its classification and the
// backend error code when the backend supplied one.
type BackendError struct {
	Kind ErrorKind
	Op   string
	Code string
	Err  error
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether the engine should back off and retry.
func (e *BackendError) Retryable() bool { return e.Kind == KindTransient }

// Error codes that indicate a configuration problem rather than a backend
// outage. Retrying these only hammers the backend with requests that can
// never succeed.
var fatalCodes = map[string]struct{}{
	"AccessDenied":                            {},
	"AccessDeniedException":                   {},
	"InvalidClientTokenId":                    {},
	"UnrecognizedClientException":             {},
	"InvalidSecurity":                         {},
	"ExpiredToken":                            {},
	"InvalidAddress":                          {},
	"QueueDoesNotExist":                       {},
	"AWS.SimpleQueueService.NonExistentQueue": {},
}

// classify wraps err as a *BackendError for the given operation.
//
// API errors carrying a fatal code are configuration failures; every other
// API error, and any non-API error (network timeouts, connection resets,
// request deadlines), is transient.
func classify(op string, err error) *BackendError {
	be := &BackendError{Kind: KindTransient, Op: op, Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		be.Code = apiErr.ErrorCode()
		if _, ok := fatalCodes[be.Code]; ok {
			be.Kind = KindFatal
		}
		return be
	}

	return be
}
