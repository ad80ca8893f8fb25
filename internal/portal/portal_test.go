package portal

import (
	"context"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/intercept"
	"iptu-backend/internal/telemetry"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubResponse struct {
	url string
}

func (r stubResponse) URL() string           { return r.url }
func (r stubResponse) Method() string        { return "PUT" }
func (r stubResponse) Status() int           { return 200 }
func (r stubResponse) Body() ([]byte, error) { return nil, nil }

func TestDispatcherOrderAndUnsubscribe(t *testing.T) {
	d := newDispatcher()
	var seen []string

	unsubFirst := d.subscribe(func(r intercept.Response) { seen = append(seen, "first:"+r.URL()) })
	d.subscribe(func(r intercept.Response) { seen = append(seen, "second:"+r.URL()) })

	d.dispatch(stubResponse{url: "a"})
	unsubFirst()
	d.dispatch(stubResponse{url: "b"})

	require.Equal(t, []string{"first:a", "second:a", "second:b"}, seen)
}

func TestDispatcherUnsubscribeDuringDispatch(t *testing.T) {
	d := newDispatcher()
	calls := 0
	var unsub func()
	unsub = d.subscribe(func(r intercept.Response) {
		calls++
		unsub()
	})
	d.dispatch(stubResponse{url: "a"})
	d.dispatch(stubResponse{url: "b"})
	require.Equal(t, 1, calls)
}

func TestSelectorsMerge(t *testing.T) {
	merged := Selectors{Submit: "#consultar"}.Merge(DefaultSelectors())
	require.Equal(t, "#consultar", merged.Submit)
	require.Equal(t, DefaultSelectors().PropertyInput, merged.PropertyInput)
	require.Equal(t, "button", merged.SubmitFallback)
}

func TestNewLauncherDefaults(t *testing.T) {
	t.Setenv("PLAYWRIGHT_EXECUTABLE_PATH", "/usr/bin/chromium")
	l := NewLauncher(Options{Headless: true, ActionTimeout: time.Second}, telemetry.NewRecorder())
	require.Equal(t, time.Second, l.opts.ActionTimeout)
	require.Equal(t, 60*time.Second, l.opts.NavigationTimeout)
	require.Equal(t, "/usr/bin/chromium", l.opts.ExecutablePath)
	require.Contains(t, l.opts.UserAgent, "Chrome/120")
	require.Equal(t, DefaultSelectors(), l.opts.Selectors)
}

func TestSessionCloseUnopened(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Close())
}

type fakeDownload struct {
	path      string
	finish    chan struct{}
	cancelled chan struct{}
}

func newFakeDownload(path string) *fakeDownload {
	return &fakeDownload{path: path, finish: make(chan struct{}), cancelled: make(chan struct{}, 1)}
}

func (d *fakeDownload) Path() (string, error) {
	<-d.finish
	return d.path, nil
}

func (d *fakeDownload) Cancel() error {
	d.cancelled <- struct{}{}
	return nil
}

func TestAwaitFileFinished(t *testing.T) {
	d := newFakeDownload("/tmp/slip.pdf")
	close(d.finish)

	path, err := awaitFile(context.Background(), d, time.Second)
	require.NoError(t, err)
	require.Equal(t, "/tmp/slip.pdf", path)
	require.Empty(t, d.cancelled)
}

func TestAwaitFileStalled(t *testing.T) {
	d := newFakeDownload("/tmp/slip.pdf")
	defer close(d.finish)

	start := time.Now()
	_, err := awaitFile(context.Background(), d, 20*time.Millisecond)
	require.ErrorIs(t, err, debts.ErrDownloadTimeout)
	require.True(t, debts.Degrades(err))
	require.Less(t, time.Since(start), time.Second)
	require.Len(t, d.cancelled, 1)
}

func TestAwaitFileCancelled(t *testing.T) {
	d := newFakeDownload("/tmp/slip.pdf")
	defer close(d.finish)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := awaitFile(ctx, d, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, d.cancelled, 1)
}
