package debts

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound means a selector (and its fallbacks) matched nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrCaptchaUnsolved means the challenge was not verified.
	ErrCaptchaUnsolved = errors.New("captcha unsolved")
	// ErrInterceptTimeout means the expected backend response never arrived.
	ErrInterceptTimeout = errors.New("intercept timeout")
	// ErrDownloadTimeout means a matched row's document never finished downloading.
	ErrDownloadTimeout = errors.New("download timeout")
	// ErrDownloadMismatch means a document was downloaded but is not a usable payment slip.
	ErrDownloadMismatch = errors.New("download mismatch")
	// ErrPersistence wraps store failures, the property's transaction has been rolled back.
	ErrPersistence = errors.New("persistence error")
)

// HttpError is returned when the debt extract endpoint answers with a status
// other than 200 or 204.
type HttpError struct {
	Status int
}

func (e HttpError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.Status)
}

// Retryable reports whether an extraction attempt that failed with err should
// be attempted again. Cancellation and store failures are not retried, every
// failure of the browser flow is.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrPersistence) {
		return false
	}
	return true
}

// Degrades reports whether err only affects a single installment's document
// and must not abort the property's extraction.
func Degrades(err error) bool {
	return errors.Is(err, ErrDownloadTimeout) || errors.Is(err, ErrDownloadMismatch)
}
