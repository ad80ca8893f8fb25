package captcha

import (
	"context"
	"errors"
	"fmt"
	"iptu-backend/internal/assert"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/telemetry"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("internal/captcha")

const (
	report_verify_read     = "read-verified-signal"
	report_transcript      = "transcript-rejected"
	report_solve_failed    = "solve-failed"
	report_cleanup         = "cleanup-temp-dir"
	report_solve_attempted = "solve-attempt"
)

// Widget is the page-facing side of the challenge widget. Every method acts
// on the live page, implementations wrap missing elements in
// debts.ErrElementNotFound.
type Widget interface {
	// Verified reads the widget's authoritative verified signal.
	Verified(ctx context.Context) (bool, error)
	ClickCheckbox(ctx context.Context) error
	OpenAudioChallenge(ctx context.Context) error
	// AudioSource returns the url of the audio resource currently presented.
	AudioSource(ctx context.Context) (string, error)
	FillResponse(ctx context.Context, text string) error
	Submit(ctx context.Context) error
}

type AudioFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Transcoder converts the compressed audio at src to a wav file at dst.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

type State int

const (
	Unchecked State = iota
	CheckboxClicked
	ChallengeAudioPresented
	AudioDownloaded
	Transcribed
	Submitted
	Verified
	Failed
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case CheckboxClicked:
		return "checkbox_clicked"
	case ChallengeAudioPresented:
		return "challenge_audio_presented"
	case AudioDownloaded:
		return "audio_downloaded"
	case Transcribed:
		return "transcribed"
	case Submitted:
		return "submitted"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool {
	return s == Verified || s == Failed
}

// Challenge carries what the states of a single solve have produced so far.
type Challenge struct {
	Dir        string
	AudioURL   string
	AudioPath  string
	WavPath    string
	Transcript string
	// Err is set when the solve ends in Failed.
	Err error
}

// Settle holds the pauses that let the widget react after an interaction.
type Settle struct {
	AfterCheckbox time.Duration
	AfterAudio    time.Duration
	AfterSubmit   time.Duration
}

func DefaultSettle() Settle {
	return Settle{
		AfterCheckbox: 2 * time.Second,
		AfterAudio:    1500 * time.Millisecond,
		AfterSubmit:   2 * time.Second,
	}
}

type Options struct {
	Settle Settle
	// TempDir is the parent of the per-solve scratch directory, empty means
	// os.TempDir().
	TempDir string
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Solver struct {
	widget      Widget
	fetcher     AudioFetcher
	transcoder  Transcoder
	transcriber Transcriber
	opts        Options
	tel         telemetry.API
}

func NewSolver(
	widget Widget,
	fetcher AudioFetcher,
	transcoder Transcoder,
	transcriber Transcriber,
	opts Options,
	tel telemetry.API,
) Solver {
	assert.NotNil(widget)
	assert.NotNil(fetcher)
	assert.NotNil(transcoder)
	assert.NotNil(transcriber)
	assert.NotNil(tel)
	if opts.Sleep == nil {
		opts.Sleep = chrono.Sleep
	}
	return Solver{
		widget:      widget,
		fetcher:     fetcher,
		transcoder:  transcoder,
		transcriber: transcriber,
		opts:        opts,
		tel:         telemetry.NewScopedAPI("captcha", tel),
	}
}

// Solve drives the challenge to a terminal state. A nil error means the
// widget reported itself verified. Audio artifacts live in a scratch
// directory that is removed on every exit path.
func (s Solver) Solve(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "Solve")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "captcha unsolved")
		}
		span.End()
	}()

	dir, err := os.MkdirTemp(s.opts.TempDir, "captcha-*")
	if err != nil {
		return fmt.Errorf("%w: scratch dir: %w", debts.ErrCaptchaUnsolved, err)
	}
	defer func() {
		rmErr := os.RemoveAll(dir)
		if rmErr != nil {
			s.tel.ReportWarning(report_cleanup, dir, rmErr)
		}
	}()

	ch := &Challenge{Dir: dir}
	state := Unchecked
	for !state.Terminal() {
		next := s.Step(ctx, state, ch)
		span.AddEvent("transition", trace.WithAttributes(
			attribute.String("from", state.String()),
			attribute.String("to", next.String()),
		))
		s.tel.ReportDebug("captcha transition", telemetry.KV{Key: "from", Value: state.String()}, telemetry.KV{Key: "to", Value: next.String()})
		state = next
	}
	s.tel.ReportCount(report_solve_attempted, 1)

	if state == Verified {
		return nil
	}
	s.tel.ReportWarning(report_solve_failed, ch.Err)
	if ch.Err == nil {
		return debts.ErrCaptchaUnsolved
	}
	if errors.Is(ch.Err, context.Canceled) || errors.Is(ch.Err, context.DeadlineExceeded) {
		return ch.Err
	}
	return fmt.Errorf("%w: %w", debts.ErrCaptchaUnsolved, ch.Err)
}

func (s Solver) fail(ch *Challenge, err error) State {
	ch.Err = err
	return Failed
}

// Step performs the single transition out of state, recording what it
// produced in ch. Terminal states are returned unchanged.
func (s Solver) Step(ctx context.Context, state State, ch *Challenge) State {
	if state.Terminal() {
		return state
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ch, err)
	}

	switch state {
	case Unchecked:
		verified, err := s.widget.Verified(ctx)
		if err != nil {
			s.tel.ReportDebug("verified signal unreadable before click", err)
		}
		if verified {
			s.tel.ReportDebug("already verified before any interaction")
			return Verified
		}
		err = s.widget.ClickCheckbox(ctx)
		if err != nil {
			return s.fail(ch, fmt.Errorf("click checkbox: %w", err))
		}
		return CheckboxClicked

	case CheckboxClicked:
		err := s.opts.Sleep(ctx, s.opts.Settle.AfterCheckbox)
		if err != nil {
			return s.fail(ch, err)
		}
		verified, err := s.widget.Verified(ctx)
		if err != nil {
			s.tel.ReportWarning(report_verify_read, err)
		}
		if verified {
			return Verified
		}
		err = s.widget.OpenAudioChallenge(ctx)
		if err != nil {
			return s.fail(ch, fmt.Errorf("open audio challenge: %w", err))
		}
		return ChallengeAudioPresented

	case ChallengeAudioPresented:
		err := s.opts.Sleep(ctx, s.opts.Settle.AfterAudio)
		if err != nil {
			return s.fail(ch, err)
		}
		url, err := s.widget.AudioSource(ctx)
		if err != nil {
			return s.fail(ch, fmt.Errorf("audio source: %w", err))
		}
		if url == "" {
			return s.fail(ch, fmt.Errorf("audio source: %w", debts.ErrElementNotFound))
		}
		ch.AudioURL = url

		audio, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			return s.fail(ch, fmt.Errorf("fetch audio: %w", err))
		}
		ch.AudioPath = filepath.Join(ch.Dir, "challenge.mp3")
		err = os.WriteFile(ch.AudioPath, audio, 0600)
		if err != nil {
			return s.fail(ch, fmt.Errorf("write audio: %w", err))
		}
		return AudioDownloaded

	case AudioDownloaded:
		ch.WavPath = filepath.Join(ch.Dir, "challenge.wav")
		err := s.transcoder.Transcode(ctx, ch.AudioPath, ch.WavPath)
		if err != nil {
			return s.fail(ch, fmt.Errorf("transcode audio: %w", err))
		}
		text, err := s.transcriber.Transcribe(ctx, ch.WavPath)
		if err != nil {
			return s.fail(ch, fmt.Errorf("transcribe audio: %w", err))
		}
		transcript, err := CleanTranscript(text)
		if err != nil {
			s.tel.ReportWarning(report_transcript, text, err)
			return s.fail(ch, err)
		}
		ch.Transcript = transcript
		return Transcribed

	case Transcribed:
		err := s.widget.FillResponse(ctx, ch.Transcript)
		if err != nil {
			return s.fail(ch, fmt.Errorf("fill response: %w", err))
		}
		err = s.widget.Submit(ctx)
		if err != nil {
			return s.fail(ch, fmt.Errorf("submit response: %w", err))
		}
		return Submitted

	case Submitted:
		err := s.opts.Sleep(ctx, s.opts.Settle.AfterSubmit)
		if err != nil {
			return s.fail(ch, err)
		}
		verified, err := s.widget.Verified(ctx)
		if err != nil {
			return s.fail(ch, fmt.Errorf("read verified signal: %w", err))
		}
		if !verified {
			return s.fail(ch, errors.New("response rejected"))
		}
		return Verified
	}

	return s.fail(ch, fmt.Errorf("unknown state %s", state))
}
