package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"galleryaccess/internal/models"
	"galleryaccess/internal/service"
)

type Step string

const (
	StepLoading          Step = "loading"
	StepPassword         Step = "password"
	StepSecurityQuestion Step = "security-question"
	StepGranted          Step = "granted"
)

var (
	ErrValidation = errors.New("input required")
	ErrWrongStep  = errors.New("submission not allowed in current step")
	ErrBusy       = errors.New("submission already in progress")
)

// Backend is what the flow needs from the gallery service. LocalBackend
// calls a Service in process; the client package provides an HTTP one.
type Backend interface {
	GetAccessInfo(ctx context.Context, galleryID string) (models.AccessInfo, error)
	VerifyAccess(ctx context.Context, galleryID, password, securityAnswer string) (models.Grant, error)
}

type LocalBackend struct {
	Service   *service.Service
	ClientKey string
}

func (b LocalBackend) GetAccessInfo(ctx context.Context, galleryID string) (models.AccessInfo, error) {
	return b.Service.GetAccessInfo(ctx, galleryID)
}

func (b LocalBackend) VerifyAccess(ctx context.Context, galleryID, password, securityAnswer string) (models.Grant, error) {
	return b.Service.VerifyAccess(ctx, service.VerifyRequest{
		GalleryID:      galleryID,
		Password:       password,
		SecurityAnswer: securityAnswer,
		ClientKey:      b.ClientKey,
	})
}

// Flow walks one guest through the gates of one gallery:
// loading, then password and/or security-question, then granted.
// When both gates are active the password is held until the answer is
// collected and both are verified in one call.
type Flow struct {
	mu        sync.Mutex
	galleryID string
	backend   Backend
	session   *Session
	onGranted func(models.Grant)

	step     Step
	info     models.AccessInfo
	password string
	grant    models.Grant
	err      error
	busy     bool
	notified bool
}

// NewFlow builds a flow in the loading step. session and onGranted may be nil.
func NewFlow(galleryID string, backend Backend, session *Session, onGranted func(models.Grant)) *Flow {
	return &Flow{
		galleryID: galleryID,
		backend:   backend,
		session:   session,
		onGranted: onGranted,
		step:      StepLoading,
	}
}

// Start fetches the gallery's gates and picks the first step. A failed
// fetch leaves the flow in loading so Start can be retried.
func (f *Flow) Start(ctx context.Context) (Step, error) {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return StepLoading, ErrBusy
	}
	if f.step != StepLoading {
		step := f.step
		f.mu.Unlock()
		return step, nil
	}
	if f.session != nil {
		if g, ok := f.session.Lookup(f.galleryID); ok {
			f.grantLocked(g)
			f.mu.Unlock()
			f.notify()
			return StepGranted, nil
		}
	}
	f.busy = true
	f.mu.Unlock()

	info, err := f.backend.GetAccessInfo(ctx, f.galleryID)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.err = err
		f.mu.Unlock()
		return StepLoading, err
	}
	f.info = info
	f.err = nil
	switch {
	case info.Open():
		f.grantLocked(models.Grant{GalleryID: f.galleryID})
	case info.RequiresPassword:
		f.step = StepPassword
	default:
		f.step = StepSecurityQuestion
	}
	step := f.step
	f.mu.Unlock()
	f.notify()
	return step, nil
}

func (f *Flow) SubmitPassword(ctx context.Context, password string) (Step, error) {
	f.mu.Lock()
	if f.busy {
		step := f.step
		f.mu.Unlock()
		return step, ErrBusy
	}
	if f.step != StepPassword {
		step := f.step
		f.mu.Unlock()
		return step, ErrWrongStep
	}
	if strings.TrimSpace(password) == "" {
		f.err = fmt.Errorf("%w: password", ErrValidation)
		f.mu.Unlock()
		return StepPassword, f.err
	}
	if f.info.RequiresSecurityQuestion {
		f.password = password
		f.step = StepSecurityQuestion
		f.err = nil
		f.mu.Unlock()
		return StepSecurityQuestion, nil
	}
	f.busy = true
	f.mu.Unlock()

	grant, err := f.backend.VerifyAccess(ctx, f.galleryID, password, "")

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.err = err
		f.mu.Unlock()
		return StepPassword, err
	}
	f.grantLocked(grant)
	f.mu.Unlock()
	f.notify()
	return StepGranted, nil
}

// SubmitSecurityAnswer verifies the held password, if any, together with
// answer. A rejected password sends the flow back to the password step.
func (f *Flow) SubmitSecurityAnswer(ctx context.Context, answer string) (Step, error) {
	f.mu.Lock()
	if f.busy {
		step := f.step
		f.mu.Unlock()
		return step, ErrBusy
	}
	if f.step != StepSecurityQuestion {
		step := f.step
		f.mu.Unlock()
		return step, ErrWrongStep
	}
	if strings.TrimSpace(answer) == "" {
		f.err = fmt.Errorf("%w: security answer", ErrValidation)
		f.mu.Unlock()
		return StepSecurityQuestion, f.err
	}
	password := f.password
	f.busy = true
	f.mu.Unlock()

	grant, err := f.backend.VerifyAccess(ctx, f.galleryID, password, answer)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.err = err
		if errors.Is(err, service.ErrWrongPassword) && f.info.RequiresPassword {
			f.password = ""
			f.step = StepPassword
		}
		step := f.step
		f.mu.Unlock()
		return step, err
	}
	f.grantLocked(grant)
	f.mu.Unlock()
	f.notify()
	return StepGranted, nil
}

func (f *Flow) grantLocked(g models.Grant) {
	f.step = StepGranted
	f.grant = g
	f.password = ""
	f.err = nil
	if f.session != nil && g.Token != "" {
		_ = f.session.Grant(g)
	}
}

// notify runs onGranted once the flow reaches granted, at most once per flow.
func (f *Flow) notify() {
	f.mu.Lock()
	if f.step != StepGranted || f.notified {
		f.mu.Unlock()
		return
	}
	f.notified = true
	cb, grant := f.onGranted, f.grant
	f.mu.Unlock()
	if cb != nil {
		cb(grant)
	}
}

// Busy reports whether a backend call is in flight.
func (f *Flow) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

func (f *Flow) Info() models.AccessInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

// Err is the error shown inline for the current step.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) Grant() (models.Grant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grant, f.step == StepGranted
}
