package intercept

import (
	"context"
	"errors"
	"iptu-backend/internal/debts"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeResponse struct {
	url     string
	method  string
	status  int
	body    []byte
	bodyErr error
}

func (r fakeResponse) URL() string           { return r.url }
func (r fakeResponse) Method() string        { return r.method }
func (r fakeResponse) Status() int           { return r.status }
func (r fakeResponse) Body() ([]byte, error) { return r.body, r.bodyErr }

type fakeSource struct {
	mutex    sync.Mutex
	handlers map[int]func(Response)
	next     int
}

func (s *fakeSource) OnResponse(fn func(Response)) func() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.handlers == nil {
		s.handlers = map[int]func(Response){}
	}
	id := s.next
	s.next++
	s.handlers[id] = fn
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeSource) emit(r Response) {
	s.mutex.Lock()
	handlers := make([]func(Response), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mutex.Unlock()
	for _, h := range handlers {
		h(r)
	}
}

func (s *fakeSource) listeners() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.handlers)
}

var debtExtract = Match("getExtratoIPTU", "PUT")

func TestAwaitResponseFasterThanTrigger(t *testing.T) {
	src := &fakeSource{}
	result, err := Await(context.Background(), src, debtExtract, func() error {
		// the response lands before the click call even returns
		src.emit(fakeResponse{url: "https://portal/api/getExtratoIPTU", method: "GET", status: 200})
		src.emit(fakeResponse{url: "https://portal/api/other", method: "PUT", status: 200})
		src.emit(fakeResponse{url: "https://portal/api/getExtratoIPTU?x=1", method: "PUT", status: 200, body: []byte(`[]`)})
		return nil
	}, time.Second)

	require.NoError(t, err)
	require.Equal(t, 200, result.Status)
	require.Equal(t, "https://portal/api/getExtratoIPTU?x=1", result.URL)
	require.Equal(t, []byte(`[]`), result.Body)
	require.Equal(t, 0, src.listeners())
}

func TestAwaitNoContent(t *testing.T) {
	src := &fakeSource{}
	result, err := Await(context.Background(), src, debtExtract, func() error {
		go src.emit(fakeResponse{url: "/getExtratoIPTU", method: "put", status: 204})
		return nil
	}, time.Second)

	require.NoError(t, err)
	require.Equal(t, 204, result.Status)
	require.Nil(t, result.Body)
}

func TestAwaitTimeout(t *testing.T) {
	src := &fakeSource{}
	_, err := Await(context.Background(), src, debtExtract, func() error { return nil }, time.Millisecond*20)
	require.True(t, errors.Is(err, debts.ErrInterceptTimeout))
	require.Equal(t, 0, src.listeners())
}

func TestAwaitTriggerFails(t *testing.T) {
	src := &fakeSource{}
	_, err := Await(context.Background(), src, debtExtract, func() error {
		return debts.ErrElementNotFound
	}, time.Second)
	require.True(t, errors.Is(err, debts.ErrElementNotFound))
	require.Equal(t, 0, src.listeners())
}

func TestAwaitErrorStatusSkipsBody(t *testing.T) {
	src := &fakeSource{}
	aborted := errors.New("response body is unavailable for redirect responses")
	for _, status := range []int{302, 500, 503} {
		result, err := Await(context.Background(), src, debtExtract, func() error {
			go src.emit(fakeResponse{url: "/getExtratoIPTU", method: "PUT", status: status, bodyErr: aborted})
			return nil
		}, time.Second)

		require.NoError(t, err, status)
		require.Equal(t, status, result.Status)
		require.Nil(t, result.Body)
	}
}

func TestAwaitOkBodyUnreadable(t *testing.T) {
	src := &fakeSource{}
	_, err := Await(context.Background(), src, debtExtract, func() error {
		go src.emit(fakeResponse{url: "/getExtratoIPTU", method: "PUT", status: 200, bodyErr: errors.New("target closed")})
		return nil
	}, time.Second)
	require.ErrorContains(t, err, "target closed")
}
