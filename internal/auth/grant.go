package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidGrant = errors.New("invalid grant token")

const grantIssuer = "galleryaccess"

type GrantClaims struct {
	GalleryID string `json:"gallery_id"`
	jwt.RegisteredClaims
}

// GrantIssuer mints and checks the HS256 tokens handed out after a guest
// passes every gate of a gallery.
type GrantIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewGrantIssuer(signingKey string, ttl time.Duration) *GrantIssuer {
	return &GrantIssuer{key: []byte(signingKey), ttl: ttl, now: time.Now}
}

func (g *GrantIssuer) Issue(galleryID string) (string, time.Time, error) {
	now := g.now().UTC()
	exp := now.Add(g.ttl)
	claims := GrantClaims{
		GalleryID: galleryID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    grantIssuer,
			Subject:   galleryID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Check returns nil when token is a live grant for galleryID.
func (g *GrantIssuer) Check(token, galleryID string) error {
	claims := &GrantClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return g.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(grantIssuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if !parsed.Valid || claims.GalleryID != galleryID {
		return ErrInvalidGrant
	}
	return nil
}
