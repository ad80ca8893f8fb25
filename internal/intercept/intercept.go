// Package intercept captures one specific backend response caused by a UI action.
package intercept

import (
	"context"
	"fmt"
	"iptu-backend/internal/debts"
	"net/http"
	"strings"
	"time"
)

// Response is a network response observed by the browser.
type Response interface {
	URL() string
	Method() string
	Status() int
	Body() ([]byte, error)
}

// Source delivers every response the page receives to fn until unsubscribe is called.
type Source interface {
	OnResponse(fn func(Response)) (unsubscribe func())
}

// Predicate decides whether a response is the one being waited for.
type Predicate func(url, method string) bool

// Match returns a predicate matching responses whose url contains urlPart and
// whose request method is method.
func Match(urlPart, method string) Predicate {
	return func(url, m string) bool {
		return strings.Contains(url, urlPart) && strings.EqualFold(m, method)
	}
}

type Result struct {
	URL    string
	Status int
	Body   []byte
}

// Await arms a listener for the first response satisfying match, then runs
// trigger and waits at most timeout for that response.
//
// The listener is armed before trigger runs, a response that completes while
// trigger is still returning is not lost.
func Await(ctx context.Context, src Source, match Predicate, trigger func() error, timeout time.Duration) (Result, error) {
	matched := make(chan Response, 1)
	unsubscribe := src.OnResponse(func(r Response) {
		if !match(r.URL(), r.Method()) {
			return
		}
		select {
		case matched <- r:
		default:
		}
	})
	defer unsubscribe()

	err := trigger()
	if err != nil {
		return Result{}, fmt.Errorf("trigger: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-matched:
		result := Result{URL: r.URL(), Status: r.Status()}
		// only a 200 carries a body worth reading, redirects and errors may
		// have none at all
		if result.Status != http.StatusOK {
			return result, nil
		}
		body, err := r.Body()
		if err != nil {
			return Result{}, fmt.Errorf("read body of %s: %w", result.URL, err)
		}
		result.Body = body
		return result, nil
	case <-timer.C:
		return Result{}, fmt.Errorf("%w: no matching response after %s", debts.ErrInterceptTimeout, timeout)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
