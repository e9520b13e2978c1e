package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"galleryaccess/internal/models"
	"galleryaccess/internal/service"
)

// ErrNetwork marks a failure of the call itself, as opposed to a rejection
// by the gallery service.
var ErrNetwork = errors.New("network error")

// APIError is a non-2xx response that maps to no known sentinel.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gallery api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gallery api %d", e.Status)
}

type errorBody struct {
	Code                     string `json:"code"`
	Message                  string `json:"message"`
	RequestID                string `json:"request_id"`
	Error                    string `json:"error"`
	RequiresPassword         bool   `json:"requiresPassword"`
	RequiresSecurityQuestion bool   `json:"requiresSecurityQuestion"`
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	Logger  *zap.Logger
}

// Client talks to the gallery HTTP API. It satisfies access.Backend.
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func New(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(o.BaseURL, "/")).
		SetTimeout(o.Timeout).
		SetRetryCount(o.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: c, log: o.Logger}
}

func (c *Client) GetAccessInfo(ctx context.Context, galleryID string) (models.AccessInfo, error) {
	var out models.AccessInfo
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&eb).
		Get("/api/galleries/" + url.PathEscape(galleryID) + "/access-info")
	if err := c.check(resp, err, &eb); err != nil {
		return models.AccessInfo{}, err
	}
	return out, nil
}

type verifyBody struct {
	Password       string `json:"password,omitempty"`
	SecurityAnswer string `json:"securityAnswer,omitempty"`
}

type verifyResult struct {
	Granted   bool      `json:"granted"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *Client) VerifyAccess(ctx context.Context, galleryID, password, securityAnswer string) (models.Grant, error) {
	var out verifyResult
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(verifyBody{Password: password, SecurityAnswer: securityAnswer}).
		SetResult(&out).
		SetError(&eb).
		Post("/api/galleries/" + url.PathEscape(galleryID) + "/verify-access")
	if err := c.check(resp, err, &eb); err != nil {
		return models.Grant{}, err
	}
	if !out.Granted {
		return models.Grant{}, service.ErrInvalidCredential
	}
	return models.Grant{GalleryID: galleryID, Token: out.Token, ExpiresAt: out.ExpiresAt}, nil
}

// OpenGallery reads a gallery with the grant token from VerifyAccess.
func (c *Client) OpenGallery(ctx context.Context, galleryID, token string) (models.PublicGallery, error) {
	var out models.PublicGallery
	var eb errorBody
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&eb)
	if token != "" {
		req.SetAuthToken(token)
	}
	resp, err := req.Get("/api/galleries/" + url.PathEscape(galleryID))
	if err := c.check(resp, err, &eb); err != nil {
		return models.PublicGallery{}, err
	}
	return out, nil
}

func (c *Client) GetGalleryInfo(ctx context.Context, code string) (models.GalleryInfo, error) {
	var out models.GalleryInfo
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&eb).
		Get("/api/gallery-codes/" + url.PathEscape(strings.TrimSpace(code)))
	if err := c.check(resp, err, &eb); err != nil {
		return models.GalleryInfo{}, err
	}
	return out, nil
}

type PasswordRequest struct {
	GalleryID      string `json:"galleryId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Relation       string `json:"relation,omitempty"`
	SecurityAnswer string `json:"securityAnswer,omitempty"`
	CaptchaToken   string `json:"captchaToken,omitempty"`
}

func (c *Client) SubmitPasswordRequest(ctx context.Context, in PasswordRequest) (models.PasswordRequestResult, error) {
	var out models.PasswordRequestResult
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&out).
		SetError(&eb).
		Post("/api/password-requests")
	if err := c.check(resp, err, &eb); err != nil {
		return models.PasswordRequestResult{}, err
	}
	return out, nil
}

func (c *Client) check(resp *resty.Response, err error, eb *errorBody) error {
	if err != nil {
		c.log.Warn("gallery_api_call_failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if !resp.IsError() {
		return nil
	}
	status := resp.StatusCode()
	switch {
	case status == http.StatusNotFound:
		return service.ErrNotFound
	case status == http.StatusTooManyRequests:
		return service.ErrTooManyAttempts
	case status == http.StatusUnauthorized:
		return service.ErrGrantRequired
	case status == http.StatusBadRequest && eb.Code == "validation_error":
		return fmt.Errorf("%w: %s", service.ErrValidation, eb.Message)
	case status == http.StatusForbidden:
		switch {
		case eb.RequiresPassword || eb.Code == "wrong_password":
			return service.ErrWrongPassword
		case eb.RequiresSecurityQuestion || eb.Code == "wrong_security_answer":
			return service.ErrWrongSecurityAnswer
		}
	}
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	return &APIError{Status: status, Code: eb.Code, Message: msg, RequestID: eb.RequestID}
}
