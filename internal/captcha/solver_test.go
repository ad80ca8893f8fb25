package captcha

import (
	"context"
	"errors"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/telemetry"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeWidget struct {
	// verified is consumed one value per Verified call, the last value repeats.
	verified []bool
	calls    []string
	source   string
	filled   string

	clickErr error
}

func (w *fakeWidget) Verified(ctx context.Context) (bool, error) {
	w.calls = append(w.calls, "verified")
	if len(w.verified) == 0 {
		return false, nil
	}
	v := w.verified[0]
	if len(w.verified) > 1 {
		w.verified = w.verified[1:]
	}
	return v, nil
}

func (w *fakeWidget) ClickCheckbox(ctx context.Context) error {
	w.calls = append(w.calls, "click")
	return w.clickErr
}

func (w *fakeWidget) OpenAudioChallenge(ctx context.Context) error {
	w.calls = append(w.calls, "audio")
	return nil
}

func (w *fakeWidget) AudioSource(ctx context.Context) (string, error) {
	w.calls = append(w.calls, "source")
	return w.source, nil
}

func (w *fakeWidget) FillResponse(ctx context.Context, text string) error {
	w.calls = append(w.calls, "fill")
	w.filled = text
	return nil
}

func (w *fakeWidget) Submit(ctx context.Context) error {
	w.calls = append(w.calls, "submit")
	return nil
}

type fakeFetcher struct {
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.fetched = append(f.fetched, url)
	return []byte("ID3 fake mp3"), nil
}

type copyTranscoder struct{}

func (copyTranscoder) Transcode(ctx context.Context, src, dst string) error {
	contents, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, contents, 0600)
}

type fixedTranscriber struct {
	text string
	seen string
}

func (t *fixedTranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	_, err := os.Stat(wavPath)
	if err != nil {
		return "", err
	}
	t.seen = wavPath
	return t.text, nil
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

type fixture struct {
	widget      *fakeWidget
	fetcher     *fakeFetcher
	transcriber *fixedTranscriber
	tempDir     string
	solver      Solver
}

func newFixture(t *testing.T, widget *fakeWidget, transcript string) fixture {
	f := fixture{
		widget:      widget,
		fetcher:     &fakeFetcher{},
		transcriber: &fixedTranscriber{text: transcript},
		tempDir:     t.TempDir(),
	}
	f.solver = NewSolver(
		f.widget, f.fetcher, copyTranscoder{}, f.transcriber,
		Options{TempDir: f.tempDir, Sleep: noSleep},
		telemetry.NewRecorder(),
	)
	return f
}

func (f fixture) requireClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSolveAlreadyVerified(t *testing.T) {
	f := newFixture(t, &fakeWidget{verified: []bool{true}}, "")
	require.NoError(t, f.solver.Solve(context.Background()))
	require.Equal(t, []string{"verified"}, f.widget.calls)
	require.Empty(t, f.fetcher.fetched)
	f.requireClean(t)
}

func TestSolveVerifiedAfterCheckbox(t *testing.T) {
	f := newFixture(t, &fakeWidget{verified: []bool{false, true}}, "")
	require.NoError(t, f.solver.Solve(context.Background()))
	require.Equal(t, []string{"verified", "click", "verified"}, f.widget.calls)
	require.Empty(t, f.fetcher.fetched)
	f.requireClean(t)
}

func TestSolveAudioChallenge(t *testing.T) {
	widget := &fakeWidget{
		verified: []bool{false, false, true},
		source:   "https://captcha.test/audio.mp3",
	}
	f := newFixture(t, widget, "Seven, four. Nine!")
	require.NoError(t, f.solver.Solve(context.Background()))

	diff := cmp.Diff([]string{
		"verified", "click", "verified", "audio", "source", "fill", "submit", "verified",
	}, widget.calls)
	require.Empty(t, diff)
	require.Equal(t, []string{"https://captcha.test/audio.mp3"}, f.fetcher.fetched)
	require.Equal(t, "seven four nine", widget.filled)
	require.NotEmpty(t, f.transcriber.seen)
	f.requireClean(t)
}

func TestSolveRejected(t *testing.T) {
	widget := &fakeWidget{verified: []bool{false}, source: "https://captcha.test/audio.mp3"}
	f := newFixture(t, widget, "one two")
	err := f.solver.Solve(context.Background())
	require.ErrorIs(t, err, debts.ErrCaptchaUnsolved)
	f.requireClean(t)
}

func TestSolveEmptyTranscript(t *testing.T) {
	widget := &fakeWidget{verified: []bool{false}, source: "https://captcha.test/audio.mp3"}
	f := newFixture(t, widget, " ... ")
	err := f.solver.Solve(context.Background())
	require.ErrorIs(t, err, debts.ErrCaptchaUnsolved)
	require.ErrorIs(t, err, ErrTranscriptRejected)
	require.NotContains(t, widget.calls, "submit")
	f.requireClean(t)
}

func TestSolveMissingCheckbox(t *testing.T) {
	widget := &fakeWidget{clickErr: debts.ErrElementNotFound}
	f := newFixture(t, widget, "")
	err := f.solver.Solve(context.Background())
	require.ErrorIs(t, err, debts.ErrCaptchaUnsolved)
	require.ErrorIs(t, err, debts.ErrElementNotFound)
}

func TestSolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t, &fakeWidget{}, "")
	err := f.solver.Solve(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.widget.calls)
	f.requireClean(t)
}

func TestStepTerminal(t *testing.T) {
	f := newFixture(t, &fakeWidget{}, "")
	ch := &Challenge{}
	require.Equal(t, Verified, f.solver.Step(context.Background(), Verified, ch))
	require.Equal(t, Failed, f.solver.Step(context.Background(), Failed, ch))
	require.Empty(t, f.widget.calls)
}

func TestStepSourceMissing(t *testing.T) {
	f := newFixture(t, &fakeWidget{}, "")
	ch := &Challenge{Dir: t.TempDir()}
	next := f.solver.Step(context.Background(), ChallengeAudioPresented, ch)
	require.Equal(t, Failed, next)
	require.True(t, errors.Is(ch.Err, debts.ErrElementNotFound))
}

func TestCleanTranscript(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{in: "Hello World.", out: "hello world", ok: true},
		{in: "  5 3 8  ", out: "5 3 8", ok: true},
		{in: "", ok: false},
		{in: "?!", ok: false},
		{in: "seven | eleven", ok: false},
		{in: "one two three four five six seven eight nine ten eleven twelve thirteen", ok: false},
	}
	for _, c := range cases {
		out, err := CleanTranscript(c.in)
		if !c.ok {
			require.ErrorIs(t, err, ErrTranscriptRejected, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		require.Equal(t, c.out, out)
	}
}
