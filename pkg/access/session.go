package access

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickfnielsen/access-portal/internal/util"
)

// Session is the state a browser keeps after a successful login: the
// accessible servers array and the support contact. Pages read it to decide
// whether to show the join link or the denial screen.
//
// Sessions carry no signature and are only a client cache. Whether they go
// stale is up to the caller through Stale.
type Session struct {
	Email    string               `json:"userEmail"`
	Servers  [Slots]*ServerAccess `json:"accessibleServers"`
	WhatsApp string               `json:"whatsapp,omitempty"`
	StoredAt time.Time            `json:"storedAt"`
}

var ErrNoAccess = errors.New("session requires at least one accessible server")

// NewSession builds the session written after a validation. Denied results
// never produce a session.
func NewSession(email string, result *Result, now time.Time) (*Session, error) {
	if result == nil || !result.HasAccess {
		return nil, ErrNoAccess
	}

	return &Session{
		Email:    normalizeEmail(email),
		Servers:  result.Servers,
		WhatsApp: result.Contact,
		StoredAt: now.UTC(),
	}, nil
}

// DecodeSession reads a stored session. Anything but exactly three slots is
// rejected.
func DecodeSession(data []byte) (*Session, error) {
	var raw struct {
		Email    string          `json:"userEmail"`
		Servers  []*ServerAccess `json:"accessibleServers"`
		WhatsApp string          `json:"whatsapp"`
		StoredAt time.Time       `json:"storedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if raw.Email == "" {
		return nil, errors.New("session without email")
	}
	if len(raw.Servers) != Slots {
		return nil, fmt.Errorf("session has %d server slots, want %d", len(raw.Servers), Slots)
	}

	s := &Session{Email: raw.Email, WhatsApp: raw.WhatsApp, StoredAt: raw.StoredAt}
	copy(s.Servers[:], raw.Servers)
	return s, nil
}

func (s *Session) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Stale reports whether the session is older than maxAge. A zero maxAge
// keeps sessions until the next login.
func (s *Session) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.StoredAt) > maxAge
}

func (s *Session) CanEnter(slot int) bool {
	if slot < 0 || slot >= Slots {
		return false
	}
	return s.Servers[slot] != nil
}

func (s *Session) JoinURL(slot int) string {
	if !s.CanEnter(slot) {
		return ""
	}
	return s.Servers[slot].JoinURL
}

// Lobbies lists the lobby numbers (slot + 1) the session can enter.
func (s *Session) Lobbies() []int {
	var lobbies []int
	for i := range s.Servers {
		if s.CanEnter(i) {
			lobbies = append(lobbies, i+1)
		}
	}
	return lobbies
}

// SupportLink points at the stored contact, or fallback if the session has
// none.
func (s *Session) SupportLink(fallback string, text string) string {
	return SupportLink(s.WhatsApp, fallback, text)
}

// SupportLink builds a wa.me link for contact. A contact without digits
// falls back to the configured support number.
func SupportLink(contact string, fallback string, text string) string {
	if link := util.WhatsAppLink(contact, text); link != "" {
		return link
	}
	return util.WhatsAppLink(fallback, text)
}
