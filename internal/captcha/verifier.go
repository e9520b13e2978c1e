package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"galleryaccess/internal/config"
)

// Action is the widget action the password-request form renders with.
const Action = "password_request"

var (
	ErrCaptchaRequired    = errors.New("captcha_required")
	ErrCaptchaUnavailable = errors.New("captcha_unavailable")
)

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type NoopVerifier struct{}

func (NoopVerifier) Verify(ctx context.Context, token, remoteIP string) error { return nil }

// HTTPVerifier posts to a siteverify endpoint (Turnstile, hCaptcha).
type HTTPVerifier struct {
	verifyURL string
	secret    string
	action    string
	client    *resty.Client
}

func NewVerifier(cfg config.Config) Verifier {
	if !cfg.CaptchaEnabled {
		return NoopVerifier{}
	}
	return newHTTPVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret, &http.Client{Timeout: 8 * time.Second})
}

func newHTTPVerifier(verifyURL, secret string, hc *http.Client) *HTTPVerifier {
	return &HTTPVerifier{
		verifyURL: strings.TrimSpace(verifyURL),
		secret:    strings.TrimSpace(secret),
		action:    Action,
		client:    resty.NewWithClient(hc),
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: captcha token is required", ErrCaptchaRequired)
	}
	form := map[string]string{"secret": v.secret, "response": token}
	if ip := strings.TrimSpace(remoteIP); ip != "" {
		form["remoteip"] = ip
	}
	resp, err := v.client.R().SetContext(ctx).SetFormData(form).Post(v.verifyURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	switch code := resp.StatusCode(); {
	case code >= 500:
		return fmt.Errorf("%w: siteverify HTTP %d", ErrCaptchaUnavailable, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: siteverify HTTP %d", ErrCaptchaRequired, code)
	}

	var out siteverifyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if !out.Success {
		if len(out.ErrorCodes) > 0 {
			return fmt.Errorf("%w: captcha rejected: %s", ErrCaptchaRequired, strings.Join(out.ErrorCodes, ","))
		}
		return fmt.Errorf("%w: captcha rejected", ErrCaptchaRequired)
	}
	// hCaptcha never reports an action.
	if out.Action != "" && v.action != "" && out.Action != v.action {
		return fmt.Errorf("%w: token issued for action %q", ErrCaptchaRequired, out.Action)
	}
	return nil
}
