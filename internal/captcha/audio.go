package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iptu-backend/lib/textutil"
	"os"
	"os/exec"
	"strings"
	"unicode"

	"github.com/go-resty/resty/v2"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrTranscriptRejected means the speech-to-text output is empty or cannot
// be a challenge answer.
var ErrTranscriptRejected = errors.New("transcript rejected")

const maxTranscriptWords = 12

// CleanTranscript lowercases the transcript and strips punctuation. Empty
// results and transcripts with alternatives or too many words are rejected.
func CleanTranscript(text string) (string, error) {
	if strings.ContainsAny(text, "|/") {
		return "", fmt.Errorf("%w: ambiguous %q", ErrTranscriptRejected, text)
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	cleaned = textutil.CollapseSpace(cleaned)
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty", ErrTranscriptRejected)
	}
	if len(strings.Fields(cleaned)) > maxTranscriptWords {
		return "", fmt.Errorf("%w: too long %q", ErrTranscriptRejected, cleaned)
	}
	return cleaned, nil
}

// RestyFetcher downloads the audio resource with the widget's url.
type RestyFetcher struct {
	client *resty.Client
}

func NewRestyFetcher(client *resty.Client) RestyFetcher {
	return RestyFetcher{client: client}
}

func (f RestyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("audio download: status %d", res.StatusCode())
	}
	if len(res.Body()) == 0 {
		return nil, fmt.Errorf("audio download: empty body")
	}
	return res.Body(), nil
}

// FFmpegTranscoder shells out to ffmpeg to produce 16kHz mono wav.
type FFmpegTranscoder struct {
	Path string
}

func (t FFmpegTranscoder) Transcode(ctx context.Context, src, dst string) error {
	bin := t.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(
		ctx, bin,
		"-y", "-loglevel", "error",
		"-i", src,
		"-ac", "1", "-ar", "16000",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

type TranscriberOptions struct {
	ApiKey string
	// Model defaults to whisper-1.
	Model string
	// Language is an ISO-639-1 code, the challenge audio is english.
	Language string
}

// OpenAITranscriber sends the wav file to the OpenAI transcription endpoint.
type OpenAITranscriber struct {
	client   openai.Client
	model    openai.AudioModel
	language string
}

func NewOpenAITranscriber(opts TranscriberOptions) OpenAITranscriber {
	model := openai.AudioModelWhisper1
	if opts.Model != "" {
		model = openai.AudioModel(opts.Model)
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	var clientOpts []option.RequestOption
	if opts.ApiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.ApiKey))
	}
	return OpenAITranscriber{
		client:   openai.NewClient(clientOpts...),
		model:    model,
		language: language,
	}
}

func (t OpenAITranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	res, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:     f,
		Model:    t.model,
		Language: openai.String(t.language),
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
