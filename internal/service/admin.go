package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"galleryaccess/internal/auth"
	"galleryaccess/internal/models"
	"galleryaccess/internal/store"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
)

// AccessUpdate is the admin save path for a gallery's gates. A nil Password
// keeps the current one and an empty one removes the password gate. An
// empty SecurityAnswer keeps the stored answer.
type AccessUpdate struct {
	Password                 *string `json:"password"`
	RequiresSecurityQuestion bool    `json:"requiresSecurityQuestion"`
	SecurityQuestionType     string  `json:"securityQuestionType"`
	SecurityQuestionCustom   string  `json:"securityQuestionCustom"`
	SecurityAnswer           string  `json:"securityAnswer"`
}

type GalleryInput struct {
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	EventDate *time.Time `json:"eventDate"`
}

type NewGallery struct {
	GalleryInput
	Access AccessUpdate `json:"access"`
}

func (s *Service) AdminView(ctx context.Context, g models.Gallery) (models.AdminGallery, error) {
	count, err := s.st.CountPasswordRequests(ctx, g.ID)
	if err != nil {
		return models.AdminGallery{}, fmt.Errorf("count password requests: %w", err)
	}
	view := models.AdminGallery{
		ID:                       g.ID,
		Code:                     g.Code,
		Name:                     g.Name,
		EventDate:                g.EventDate,
		RequiresPassword:         g.RequiresPassword(),
		RequiresSecurityQuestion: g.RequiresSecurityQuestion,
		SecurityQuestionType:     g.SecurityQuestionType,
		SecurityQuestionCustom:   g.SecurityQuestionCustom,
		PasswordRequests:         count,
		CreatedAt:                g.CreatedAt,
		UpdatedAt:                g.UpdatedAt,
	}
	if g.RequiresSecurityQuestion {
		view.SecurityQuestion = QuestionText(g)
	}
	return view, nil
}

func (s *Service) CreateGallery(ctx context.Context, in NewGallery) (models.Gallery, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return models.Gallery{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	g := models.Gallery{Code: store.NormalizeCode(in.Code), Name: in.Name, EventDate: in.EventDate}
	if err := s.applyAccess(&g, in.Access); err != nil {
		return models.Gallery{}, err
	}

	generated := g.Code == ""
	for attempt := 0; ; attempt++ {
		if generated {
			code, err := generateCode()
			if err != nil {
				return models.Gallery{}, err
			}
			g.Code = code
		}
		created, err := s.st.CreateGallery(ctx, g)
		if err == nil {
			s.log.Info("gallery_created", zap.String("gallery_id", created.ID), zap.String("code", created.Code))
			return created, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return models.Gallery{}, fmt.Errorf("create gallery: %w", err)
		}
		if !generated || attempt >= 4 {
			return models.Gallery{}, ErrConflict
		}
	}
}

func (s *Service) GetGallery(ctx context.Context, id string) (models.Gallery, error) {
	return s.loadGallery(ctx, id)
}

func (s *Service) ListGalleries(ctx context.Context, limit, offset int) ([]models.Gallery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.st.ListGalleries(ctx, limit, offset)
}

func (s *Service) UpdateGallery(ctx context.Context, id string, in GalleryInput) (models.Gallery, error) {
	g, err := s.loadGallery(ctx, id)
	if err != nil {
		return models.Gallery{}, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		g.Name = name
	}
	if code := store.NormalizeCode(in.Code); code != "" {
		g.Code = code
	}
	if in.EventDate != nil {
		g.EventDate = in.EventDate
	}
	return s.save(ctx, g)
}

// UpdateGalleryAccess rewrites the gates of a gallery. Disabling the
// security question clears every security field.
func (s *Service) UpdateGalleryAccess(ctx context.Context, id string, in AccessUpdate) (models.Gallery, error) {
	g, err := s.loadGallery(ctx, id)
	if err != nil {
		return models.Gallery{}, err
	}
	if err := s.applyAccess(&g, in); err != nil {
		return models.Gallery{}, err
	}
	updated, err := s.save(ctx, g)
	if err != nil {
		return models.Gallery{}, err
	}
	s.log.Info("gallery_access_updated",
		zap.String("gallery_id", updated.ID),
		zap.Bool("requires_password", updated.RequiresPassword()),
		zap.Bool("requires_security_question", updated.RequiresSecurityQuestion),
	)
	return updated, nil
}

func (s *Service) DeleteGallery(ctx context.Context, id string) error {
	err := s.st.DeleteGallery(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) ListPasswordRequests(ctx context.Context, q models.PasswordRequestQuery) ([]models.PasswordRequest, error) {
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.GalleryID = strings.TrimSpace(q.GalleryID)
	return s.st.ListPasswordRequests(ctx, q)
}

// requestPageSize is the batch AllPasswordRequests reads with.
var requestPageSize = 500

// AllPasswordRequests returns every record for galleryID (all galleries when
// empty), newest first.
func (s *Service) AllPasswordRequests(ctx context.Context, galleryID string) ([]models.PasswordRequest, error) {
	q := models.PasswordRequestQuery{GalleryID: strings.TrimSpace(galleryID), Limit: requestPageSize}
	var out []models.PasswordRequest
	for {
		page, err := s.st.ListPasswordRequests(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < q.Limit {
			return out, nil
		}
		q.Offset += len(page)
	}
}

func (s *Service) save(ctx context.Context, g models.Gallery) (models.Gallery, error) {
	updated, err := s.st.UpdateGallery(ctx, g)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.Gallery{}, ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return models.Gallery{}, ErrConflict
	case err != nil:
		return models.Gallery{}, fmt.Errorf("update gallery: %w", err)
	}
	return updated, nil
}

func (s *Service) applyAccess(g *models.Gallery, in AccessUpdate) error {
	if in.Password != nil {
		if *in.Password == "" {
			g.PasswordHash = ""
			g.PasswordSecret = ""
		} else {
			if strings.TrimSpace(*in.Password) == "" {
				return fmt.Errorf("%w: password cannot be blank", ErrValidation)
			}
			hash, err := auth.HashSecret(*in.Password)
			if err != nil {
				return err
			}
			sealed, err := s.sealer.Seal(*in.Password)
			if err != nil {
				return err
			}
			g.PasswordHash = hash
			g.PasswordSecret = sealed
		}
	}

	if !in.RequiresSecurityQuestion {
		g.RequiresSecurityQuestion = false
		g.SecurityQuestionType = nil
		g.SecurityQuestionCustom = nil
		g.SecurityAnswerHash = nil
		return nil
	}

	qt := models.SecurityQuestionType(strings.ToLower(strings.TrimSpace(in.SecurityQuestionType)))
	if !qt.Valid() {
		return fmt.Errorf("%w: security question type must be location, month or custom", ErrValidation)
	}
	var custom *string
	if qt == models.QuestionCustom {
		text := strings.TrimSpace(in.SecurityQuestionCustom)
		if text == "" {
			return fmt.Errorf("%w: custom security question text is required", ErrValidation)
		}
		custom = &text
	}
	answerHash := g.SecurityAnswerHash
	if strings.TrimSpace(in.SecurityAnswer) != "" {
		hash, err := auth.HashAnswer(in.SecurityAnswer)
		if err != nil {
			return err
		}
		answerHash = &hash
	}
	if answerHash == nil || *answerHash == "" {
		return fmt.Errorf("%w: security answer is required", ErrValidation)
	}
	g.RequiresSecurityQuestion = true
	g.SecurityQuestionType = &qt
	g.SecurityQuestionCustom = custom
	g.SecurityAnswerHash = answerHash
	return nil
}

func generateCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
