package access

import (
	"errors"
	"strings"
	"sync"
	"time"

	"galleryaccess/internal/models"
)

var ErrSessionClosed = errors.New("access session closed")

// Session holds the grants a guest collected while browsing. One session is
// created per visitor at the application root and closed on logout.
type Session struct {
	mu     sync.Mutex
	grants map[string]models.Grant
	closed bool
	now    func() time.Time
}

func NewSession() *Session {
	return &Session{grants: map[string]models.Grant{}, now: time.Now}
}

func (s *Session) Grant(g models.Grant) error {
	if strings.TrimSpace(g.GalleryID) == "" {
		return errors.New("grant without gallery id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.grants[g.GalleryID] = g
	return nil
}

// Lookup returns the live grant for galleryID. Expired grants are dropped.
func (s *Session) Lookup(galleryID string) (models.Grant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[galleryID]
	if !ok {
		return models.Grant{}, false
	}
	if !g.ExpiresAt.IsZero() && !s.now().Before(g.ExpiresAt) {
		delete(s.grants, galleryID)
		return models.Grant{}, false
	}
	return g, true
}

func (s *Session) Invalidate(galleryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, galleryID)
}

// Close drops every grant. A closed session accepts no new grants.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = map[string]models.Grant{}
	s.closed = true
}
