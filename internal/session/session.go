// Package session stores the signed-in buyer and one-shot flash messages in a
// signed cookie.
package session

import (
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	cookieName = "quickbuy"
	keyBuyerID = "buyer_id"
	maxAge     = 86400 * 30
)

var ErrNoBuyer = errors.New("no buyer in session")

type Manager struct {
	store sessions.Store
}

func NewManager(secret []byte, secure bool) *Manager {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{store: store}
}

// get ignores decode errors: a tampered or stale cookie yields a fresh session.
func (m *Manager) get(r *http.Request) *sessions.Session {
	s, err := m.store.Get(r, cookieName)
	if err != nil && s == nil {
		s = sessions.NewSession(m.store, cookieName)
	}
	return s
}

func (m *Manager) BuyerID(r *http.Request) (string, error) {
	id, ok := m.get(r).Values[keyBuyerID].(string)
	if !ok || id == "" {
		return "", ErrNoBuyer
	}
	return id, nil
}

func (m *Manager) SetBuyer(w http.ResponseWriter, r *http.Request, buyerID string) error {
	s := m.get(r)
	s.Values[keyBuyerID] = buyerID
	return s.Save(r, w)
}

func (m *Manager) AddFlash(w http.ResponseWriter, r *http.Request, msg string) error {
	s := m.get(r)
	s.AddFlash(msg)
	return s.Save(r, w)
}

// Flashes pops every pending message.
func (m *Manager) Flashes(w http.ResponseWriter, r *http.Request) ([]string, error) {
	s := m.get(r)
	raw := s.Flashes()
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if msg, ok := f.(string); ok {
			out = append(out, msg)
		}
	}
	return out, s.Save(r, w)
}
