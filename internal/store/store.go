package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"galleryaccess/internal/db"
	"galleryaccess/internal/models"
	"galleryaccess/internal/timestamp"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

type Store struct {
	db     *sql.DB
	driver string
}

func New(sqdb *sql.DB, driver string) *Store {
	if driver == "" {
		driver = "sqlite"
	}
	return &Store{db: sqdb, driver: driver}
}

func (s *Store) q(query string) string { return db.Rebind(s.driver, query) }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const galleryColumns = `id,code,name,event_date,password_hash,password_secret,requires_security_question,security_question_type,security_question_custom,security_answer_hash,created_at,updated_at`

func (s *Store) CreateGallery(ctx context.Context, g models.Gallery) (models.Gallery, error) {
	now := time.Now().UTC()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.Code = NormalizeCode(g.Code)
	g.CreatedAt = now
	g.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO galleries(`+galleryColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`),
		g.ID, g.Code, g.Name, g.EventDate, g.PasswordHash, g.PasswordSecret, boolInt(g.RequiresSecurityQuestion),
		questionType(g.SecurityQuestionType), g.SecurityQuestionCustom, g.SecurityAnswerHash, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Gallery{}, ErrConflict
		}
		return models.Gallery{}, err
	}
	return g, nil
}

func (s *Store) GetGallery(ctx context.Context, id string) (models.Gallery, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+galleryColumns+` FROM galleries WHERE id=?`), id)
	return scanGallery(row)
}

func (s *Store) GetGalleryByCode(ctx context.Context, code string) (models.Gallery, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+galleryColumns+` FROM galleries WHERE code=?`), NormalizeCode(code))
	return scanGallery(row)
}

func (s *Store) ListGalleries(ctx context.Context, limit, offset int) ([]models.Gallery, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+galleryColumns+` FROM galleries ORDER BY created_at DESC, id LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Gallery, 0, limit)
	for rows.Next() {
		g, err := scanGallery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGallery overwrites every mutable column of g.
func (s *Store) UpdateGallery(ctx context.Context, g models.Gallery) (models.Gallery, error) {
	g.Code = NormalizeCode(g.Code)
	g.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE galleries SET code=?, name=?, event_date=?, password_hash=?, password_secret=?, requires_security_question=?, security_question_type=?, security_question_custom=?, security_answer_hash=?, updated_at=? WHERE id=?`),
		g.Code, g.Name, g.EventDate, g.PasswordHash, g.PasswordSecret, boolInt(g.RequiresSecurityQuestion),
		questionType(g.SecurityQuestionType), g.SecurityQuestionCustom, g.SecurityAnswerHash, g.UpdatedAt, g.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Gallery{}, ErrConflict
		}
		return models.Gallery{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Gallery{}, ErrNotFound
	}
	return g, nil
}

func (s *Store) DeleteGallery(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM galleries WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) InsertPasswordRequest(ctx context.Context, r models.PasswordRequest) (models.PasswordRequest, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO password_requests(id,gallery_id,gallery_code,first_name,last_name,email,relation,status,security_question_answered,created_at) VALUES(?,?,?,?,?,?,?,?,?,?)`),
		r.ID, r.GalleryID, r.GalleryCode, r.FirstName, r.LastName, r.Email, r.Relation, r.Status, boolInt(r.SecurityQuestionAnswered), r.CreatedAt,
	)
	if err != nil {
		return models.PasswordRequest{}, err
	}
	return r, nil
}

func (s *Store) ListPasswordRequests(ctx context.Context, q models.PasswordRequestQuery) ([]models.PasswordRequest, error) {
	query := `SELECT id,gallery_id,gallery_code,first_name,last_name,email,relation,status,security_question_answered,created_at FROM password_requests`
	args := []any{}
	if strings.TrimSpace(q.GalleryID) != "" {
		query += ` WHERE gallery_id=?`
		args = append(args, q.GalleryID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.PasswordRequest, 0)
	for rows.Next() {
		var r models.PasswordRequest
		var answered int
		var createdAt any
		if err := rows.Scan(&r.ID, &r.GalleryID, &r.GalleryCode, &r.FirstName, &r.LastName, &r.Email, &r.Relation, &r.Status, &answered, &createdAt); err != nil {
			return nil, err
		}
		r.SecurityQuestionAnswered = answered != 0
		if r.CreatedAt, err = timestamp.Parse(createdAt); err != nil {
			return nil, fmt.Errorf("password request %s created_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountPasswordRequests(ctx context.Context, galleryID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM password_requests WHERE gallery_id=?`), galleryID).Scan(&count)
	return count, err
}

// NormalizeCode is the stored form of a human-entered gallery code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGallery(row scanner) (models.Gallery, error) {
	var g models.Gallery
	var requiresQuestion int
	var qType, qCustom, answerHash sql.NullString
	var eventDate, createdAt, updatedAt any
	err := row.Scan(&g.ID, &g.Code, &g.Name, &eventDate, &g.PasswordHash, &g.PasswordSecret, &requiresQuestion,
		&qType, &qCustom, &answerHash, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return models.Gallery{}, ErrNotFound
	}
	if err != nil {
		return models.Gallery{}, err
	}
	g.RequiresSecurityQuestion = requiresQuestion != 0
	if qType.Valid && qType.String != "" {
		t := models.SecurityQuestionType(qType.String)
		g.SecurityQuestionType = &t
	}
	if qCustom.Valid {
		v := qCustom.String
		g.SecurityQuestionCustom = &v
	}
	if answerHash.Valid {
		v := answerHash.String
		g.SecurityAnswerHash = &v
	}
	if eventDate != nil {
		t, err := timestamp.Parse(eventDate)
		if err != nil {
			return models.Gallery{}, fmt.Errorf("gallery %s event_date: %w", g.ID, err)
		}
		g.EventDate = &t
	}
	if g.CreatedAt, err = timestamp.Parse(createdAt); err != nil {
		return models.Gallery{}, fmt.Errorf("gallery %s created_at: %w", g.ID, err)
	}
	if g.UpdatedAt, err = timestamp.Parse(updatedAt); err != nil {
		return models.Gallery{}, fmt.Errorf("gallery %s updated_at: %w", g.ID, err)
	}
	return g, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func questionType(t *models.SecurityQuestionType) any {
	if t == nil {
		return nil
	}
	return string(*t)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
