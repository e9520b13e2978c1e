package models

import "time"

type SecurityQuestionType string

const (
	QuestionLocation SecurityQuestionType = "location"
	QuestionMonth    SecurityQuestionType = "month"
	QuestionCustom   SecurityQuestionType = "custom"
)

func (t SecurityQuestionType) Valid() bool {
	switch t {
	case QuestionLocation, QuestionMonth, QuestionCustom:
		return true
	}
	return false
}

const PasswordRequestCompleted = "completed"

// Gallery is the stored access configuration of one gallery. Secrets are
// never kept in plaintext: PasswordHash and SecurityAnswerHash are argon2id
// encodings, PasswordSecret is the AES-GCM sealed password.
type Gallery struct {
	ID                       string
	Code                     string
	Name                     string
	EventDate                *time.Time
	PasswordHash             string
	PasswordSecret           string
	RequiresSecurityQuestion bool
	SecurityQuestionType     *SecurityQuestionType
	SecurityQuestionCustom   *string
	SecurityAnswerHash       *string
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (g Gallery) RequiresPassword() bool {
	return g.PasswordHash != ""
}

type PasswordRequest struct {
	ID                       string    `json:"id"`
	GalleryID                string    `json:"galleryId"`
	GalleryCode              string    `json:"galleryCode"`
	FirstName                string    `json:"firstName"`
	LastName                 string    `json:"lastName"`
	Email                    string    `json:"email"`
	Relation                 string    `json:"relation"`
	Status                   string    `json:"status"`
	SecurityQuestionAnswered bool      `json:"securityQuestionAnswered"`
	CreatedAt                time.Time `json:"createdAt"`
}

type AccessInfo struct {
	RequiresPassword         bool   `json:"requiresPassword"`
	RequiresSecurityQuestion bool   `json:"requiresSecurityQuestion"`
	SecurityQuestion         string `json:"securityQuestion,omitempty"`
}

func (a AccessInfo) Open() bool {
	return !a.RequiresPassword && !a.RequiresSecurityQuestion
}

type GalleryInfo struct {
	ID                       string `json:"id"`
	Code                     string `json:"code"`
	Name                     string `json:"name"`
	RequiresSecurityQuestion bool   `json:"requiresSecurityQuestion"`
	SecurityQuestion         string `json:"securityQuestion,omitempty"`
}

type Grant struct {
	GalleryID string    `json:"galleryId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type PasswordRequestQuery struct {
	GalleryID string
	Limit     int
	Offset    int
}

// PublicGallery is what a guest holding a grant may read.
type PublicGallery struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	EventDate *time.Time `json:"eventDate,omitempty"`
}

type PasswordRequestResult struct {
	Success                  bool   `json:"success"`
	Password                 string `json:"password,omitempty"`
	RequiresSecurityQuestion bool   `json:"requiresSecurityQuestion,omitempty"`
	SecurityQuestion         string `json:"securityQuestion,omitempty"`
	Message                  string `json:"message,omitempty"`
}

// AdminGallery is the admin view of a gallery. Secret material stays in the
// store; only the presence of each gate is reported.
type AdminGallery struct {
	ID                       string                `json:"id"`
	Code                     string                `json:"code"`
	Name                     string                `json:"name"`
	EventDate                *time.Time            `json:"eventDate,omitempty"`
	RequiresPassword         bool                  `json:"requiresPassword"`
	RequiresSecurityQuestion bool                  `json:"requiresSecurityQuestion"`
	SecurityQuestionType     *SecurityQuestionType `json:"securityQuestionType"`
	SecurityQuestionCustom   *string               `json:"securityQuestionCustom"`
	SecurityQuestion         string                `json:"securityQuestion,omitempty"`
	PasswordRequests         int                   `json:"passwordRequests"`
	CreatedAt                time.Time             `json:"createdAt"`
	UpdatedAt                time.Time             `json:"updatedAt"`
}
