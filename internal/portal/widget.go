package portal

import (
	"context"
	"fmt"
	"iptu-backend/internal/debts"

	pw "github.com/playwright-community/playwright-go"
)

// the captcha widget lives in two iframes, the anchor holds the checkbox and
// the verified signal, the challenge frame holds the audio challenge.
const (
	anchorCheckbox = ".recaptcha-checkbox-border"
	anchorState    = "#recaptcha-anchor"
	audioButton    = "#recaptcha-audio-button"
	audioSource    = "#audio-source"
	audioResponse  = "#audio-response"
	verifyButton   = "#recaptcha-verify-button"
)

func (s *Session) anchor() pw.FrameLocator {
	return s.page.FrameLocator(s.opts.Selectors.CaptchaAnchorFrame)
}

func (s *Session) challenge() pw.FrameLocator {
	return s.page.FrameLocator(s.opts.Selectors.CaptchaChallengeFrame)
}

func present(loc pw.Locator, what string) error {
	count, err := loc.Count()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", debts.ErrElementNotFound, what)
	}
	return nil
}

func (s *Session) Verified(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	state := s.anchor().Locator(anchorState)
	err := present(state, anchorState)
	if err != nil {
		return false, err
	}
	checked, err := state.GetAttribute("aria-checked")
	if err != nil {
		return false, err
	}
	return checked == "true", nil
}

func (s *Session) ClickCheckbox(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	checkbox := s.anchor().Locator(anchorCheckbox)
	err := present(checkbox, anchorCheckbox)
	if err != nil {
		return err
	}
	return checkbox.Click()
}

func (s *Session) OpenAudioChallenge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	button := s.challenge().Locator(audioButton)
	err := present(button, audioButton)
	if err != nil {
		return err
	}
	return button.Click()
}

func (s *Session) AudioSource(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	source := s.challenge().Locator(audioSource)
	err := present(source, audioSource)
	if err != nil {
		return "", err
	}
	return source.GetAttribute("src")
}

func (s *Session) FillResponse(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input := s.challenge().Locator(audioResponse)
	err := present(input, audioResponse)
	if err != nil {
		return err
	}
	return input.Fill(text)
}

func (s *Session) Submit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	button := s.challenge().Locator(verifyButton)
	err := present(button, verifyButton)
	if err != nil {
		return err
	}
	return button.Click()
}
