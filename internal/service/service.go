package service

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"galleryaccess/internal/auth"
	"galleryaccess/internal/config"
	"galleryaccess/internal/models"
	"galleryaccess/internal/notify"
	"galleryaccess/internal/rate"
	"galleryaccess/internal/store"
)

var (
	ErrNotFound          = errors.New("gallery not found")
	ErrConflict          = errors.New("gallery code already in use")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrValidation        = errors.New("validation failed")
	ErrTooManyAttempts   = errors.New("too many attempts")
	ErrGrantRequired     = errors.New("access grant required")

	ErrWrongPassword       = fmt.Errorf("wrong password: %w", ErrInvalidCredential)
	ErrWrongSecurityAnswer = fmt.Errorf("wrong security answer: %w", ErrInvalidCredential)
)

const (
	promptLocation = "Dove si è svolto l'evento?"
	promptMonth    = "In che mese si è svolto l'evento?"
	promptFallback = "Rispondi alla domanda di sicurezza"

	msgNoPassword = "Questa galleria non è protetta da password"
)

const notifyTimeout = 20 * time.Second

type Service struct {
	cfg      config.Config
	st       *store.Store
	sealer   *auth.Sealer
	grants   *auth.GrantIssuer
	attempts rate.Counter
	sender   notify.Sender
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg config.Config, st *store.Store, attempts rate.Counter, sender notify.Sender, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if sender == nil {
		sender = notify.NewLogSender(log)
	}
	if attempts == nil {
		attempts = rate.NewMemory()
	}
	return &Service{
		cfg:      cfg,
		st:       st,
		sealer:   auth.NewSealer(cfg.SecretEncryptKey),
		grants:   auth.NewGrantIssuer(cfg.GrantSigningKey, cfg.GrantTTL()),
		attempts: attempts,
		sender:   sender,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) Store() *store.Store { return s.st }

// QuestionText renders the prompt shown for g's security question.
func QuestionText(g models.Gallery) string {
	if g.SecurityQuestionType == nil {
		return promptFallback
	}
	switch *g.SecurityQuestionType {
	case models.QuestionLocation:
		return promptLocation
	case models.QuestionMonth:
		return promptMonth
	case models.QuestionCustom:
		if g.SecurityQuestionCustom != nil && strings.TrimSpace(*g.SecurityQuestionCustom) != "" {
			return *g.SecurityQuestionCustom
		}
	}
	return promptFallback
}

func accessInfo(g models.Gallery) models.AccessInfo {
	info := models.AccessInfo{
		RequiresPassword:         g.RequiresPassword(),
		RequiresSecurityQuestion: g.RequiresSecurityQuestion,
	}
	if g.RequiresSecurityQuestion {
		info.SecurityQuestion = QuestionText(g)
	}
	return info
}

func (s *Service) loadGallery(ctx context.Context, galleryID string) (models.Gallery, error) {
	galleryID = strings.TrimSpace(galleryID)
	if galleryID == "" {
		return models.Gallery{}, fmt.Errorf("%w: gallery id is required", ErrValidation)
	}
	g, err := s.st.GetGallery(ctx, galleryID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Gallery{}, ErrNotFound
	}
	if err != nil {
		return models.Gallery{}, fmt.Errorf("load gallery: %w", err)
	}
	return g, nil
}

func (s *Service) GetAccessInfo(ctx context.Context, galleryID string) (models.AccessInfo, error) {
	g, err := s.loadGallery(ctx, galleryID)
	if err != nil {
		return models.AccessInfo{}, err
	}
	return accessInfo(g), nil
}

type VerifyRequest struct {
	GalleryID      string
	Password       string
	SecurityAnswer string
	// ClientKey scopes attempt throttling, usually the client IP.
	ClientKey string
}

// VerifyAccess checks the password gate first, then the security question.
// The returned error names the gate that failed.
func (s *Service) VerifyAccess(ctx context.Context, req VerifyRequest) (models.Grant, error) {
	g, err := s.loadGallery(ctx, req.GalleryID)
	if err != nil {
		return models.Grant{}, err
	}
	key := attemptKey("verify", g.ID, req.ClientKey)
	if err := s.checkAttempts(ctx, key); err != nil {
		return models.Grant{}, err
	}

	if g.RequiresPassword() && !auth.VerifySecret(g.PasswordHash, req.Password) {
		return models.Grant{}, s.recordFailure(ctx, key, g.ID, ErrWrongPassword)
	}
	if g.RequiresSecurityQuestion {
		if g.SecurityAnswerHash == nil || !auth.VerifyAnswer(*g.SecurityAnswerHash, req.SecurityAnswer) {
			return models.Grant{}, s.recordFailure(ctx, key, g.ID, ErrWrongSecurityAnswer)
		}
	}

	if err := s.attempts.Reset(ctx, key); err != nil {
		s.log.Warn("attempt_reset_failed", zap.String("gallery_id", g.ID), zap.Error(err))
	}
	token, exp, err := s.grants.Issue(g.ID)
	if err != nil {
		return models.Grant{}, fmt.Errorf("issue grant: %w", err)
	}
	s.log.Info("verify_access_granted", zap.String("gallery_id", g.ID))
	return models.Grant{GalleryID: g.ID, Token: token, ExpiresAt: exp}, nil
}

// OpenGallery returns the guest view of a gallery. Protected galleries need
// a grant token issued by VerifyAccess.
func (s *Service) OpenGallery(ctx context.Context, galleryID, token string) (models.PublicGallery, error) {
	g, err := s.loadGallery(ctx, galleryID)
	if err != nil {
		return models.PublicGallery{}, err
	}
	if !accessInfo(g).Open() {
		if strings.TrimSpace(token) == "" {
			return models.PublicGallery{}, ErrGrantRequired
		}
		if err := s.grants.Check(token, g.ID); err != nil {
			return models.PublicGallery{}, fmt.Errorf("%w: %v", ErrGrantRequired, err)
		}
	}
	return models.PublicGallery{ID: g.ID, Code: g.Code, Name: g.Name, EventDate: g.EventDate}, nil
}

func (s *Service) GetGalleryInfo(ctx context.Context, code string) (models.GalleryInfo, error) {
	code = store.NormalizeCode(code)
	if code == "" {
		return models.GalleryInfo{}, fmt.Errorf("%w: gallery code is required", ErrValidation)
	}
	g, err := s.st.GetGalleryByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return models.GalleryInfo{}, ErrNotFound
	}
	if err != nil {
		return models.GalleryInfo{}, fmt.Errorf("load gallery by code: %w", err)
	}
	info := models.GalleryInfo{
		ID:                       g.ID,
		Code:                     g.Code,
		Name:                     g.Name,
		RequiresSecurityQuestion: g.RequiresSecurityQuestion,
	}
	if g.RequiresSecurityQuestion {
		info.SecurityQuestion = QuestionText(g)
	}
	return info, nil
}

type PasswordRequestInput struct {
	GalleryID      string
	FirstName      string
	LastName       string
	Email          string
	Relation       string
	SecurityAnswer string
	ClientKey      string
}

func (in *PasswordRequestInput) normalize() error {
	in.GalleryID = strings.TrimSpace(in.GalleryID)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Relation = strings.TrimSpace(in.Relation)
	if in.GalleryID == "" || in.FirstName == "" || in.LastName == "" || in.Email == "" {
		return fmt.Errorf("%w: gallery, first name, last name and email are required", ErrValidation)
	}
	addr, err := netmail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return nil
}

// SubmitPasswordRequest hands the gallery password to a guest who supplies
// identity fields and, when the gallery has one, the security answer. A
// record is written only when the password is released.
func (s *Service) SubmitPasswordRequest(ctx context.Context, in PasswordRequestInput) (models.PasswordRequestResult, error) {
	if err := in.normalize(); err != nil {
		return models.PasswordRequestResult{}, err
	}
	g, err := s.loadGallery(ctx, in.GalleryID)
	if err != nil {
		return models.PasswordRequestResult{}, err
	}
	if !g.RequiresPassword() {
		return models.PasswordRequestResult{Success: false, Message: msgNoPassword}, nil
	}
	key := attemptKey("request", g.ID, in.ClientKey)
	if err := s.checkAttempts(ctx, key); err != nil {
		return models.PasswordRequestResult{}, err
	}

	answered := false
	if g.RequiresSecurityQuestion {
		if strings.TrimSpace(in.SecurityAnswer) == "" {
			return models.PasswordRequestResult{
				Success:                  false,
				RequiresSecurityQuestion: true,
				SecurityQuestion:         QuestionText(g),
				Message:                  "Rispondi alla domanda di sicurezza per ricevere la password",
			}, nil
		}
		if g.SecurityAnswerHash == nil || !auth.VerifyAnswer(*g.SecurityAnswerHash, in.SecurityAnswer) {
			return models.PasswordRequestResult{}, s.recordFailure(ctx, key, g.ID, ErrWrongSecurityAnswer)
		}
		answered = true
	}
	if err := s.attempts.Reset(ctx, key); err != nil {
		s.log.Warn("attempt_reset_failed", zap.String("gallery_id", g.ID), zap.Error(err))
	}

	password, err := s.sealer.Open(g.PasswordSecret)
	if err != nil {
		return models.PasswordRequestResult{}, fmt.Errorf("open gallery password: %w", err)
	}

	rec, err := s.st.InsertPasswordRequest(ctx, models.PasswordRequest{
		GalleryID:                g.ID,
		GalleryCode:              g.Code,
		FirstName:                in.FirstName,
		LastName:                 in.LastName,
		Email:                    in.Email,
		Relation:                 in.Relation,
		Status:                   models.PasswordRequestCompleted,
		SecurityQuestionAnswered: answered,
		CreatedAt:                s.now().UTC(),
	})
	if err != nil {
		return models.PasswordRequestResult{}, fmt.Errorf("record password request: %w", err)
	}
	s.log.Info("password_request_completed",
		zap.String("gallery_id", g.ID),
		zap.String("request_id", rec.ID),
		zap.Bool("security_question_answered", answered),
	)
	s.notifyAdmin(ctx, g, rec)

	return models.PasswordRequestResult{Success: true, Password: password}, nil
}

func (s *Service) notifyAdmin(ctx context.Context, g models.Gallery, rec models.PasswordRequest) {
	if s.cfg.NotifyAdminEmail == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	err := s.sender.NotifyPasswordRequest(ctx, notify.PasswordRequestNotice{
		AdminEmail:  s.cfg.NotifyAdminEmail,
		GalleryName: g.Name,
		Request:     rec,
	})
	if err != nil {
		s.log.Warn("password_request_notify_failed", zap.String("request_id", rec.ID), zap.Error(err))
	}
}

// Ready pings the database and, when it has one, the attempt store.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.st.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if p, ok := s.attempts.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("attempt store: %w", err)
		}
	}
	return nil
}

func attemptKey(kind, galleryID, client string) string {
	client = strings.TrimSpace(client)
	if client == "" {
		client = "anonymous"
	}
	return kind + ":" + galleryID + "|" + client
}

func (s *Service) checkAttempts(ctx context.Context, key string) error {
	n, err := s.attempts.Count(ctx, key)
	if err != nil {
		return fmt.Errorf("attempt store: %w", err)
	}
	if s.cfg.AttemptLimit > 0 && n >= s.cfg.AttemptLimit {
		return ErrTooManyAttempts
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, key, galleryID string, cause error) error {
	if _, err := s.attempts.Incr(ctx, key, s.cfg.AttemptWindow()); err != nil {
		s.log.Warn("attempt_count_failed", zap.String("gallery_id", galleryID), zap.Error(err))
	}
	gate := "password"
	if errors.Is(cause, ErrWrongSecurityAnswer) {
		gate = "security_question"
	}
	s.log.Info("verify_access_denied", zap.String("gallery_id", galleryID), zap.String("gate", gate))
	return cause
}
