package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yellowbus/route-tracker/internal/domain"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
	"github.com/yellowbus/route-tracker/internal/ports/out/credentials"
)

// Service is an in-memory implementation of credentials.Service backed by bcrypt hashes.
// It is safe for concurrent use.
type Service struct {
	mu  sync.RWMutex
	clk clockport.Clock

	byEmail map[string]account
	emailOf map[domain.IdentityID]string
	revoked map[domain.IdentityID]time.Time

	// Cost is the bcrypt cost used by Register.
	Cost int
}

type account struct {
	id   domain.IdentityID
	hash []byte
}

// dummyHash keeps Verify's cost similar for unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)

func NewService(clk clockport.Clock) *Service {
	return &Service{
		clk:     clk,
		byEmail: make(map[string]account),
		emailOf: make(map[domain.IdentityID]string),
		revoked: make(map[domain.IdentityID]time.Time),
		Cost:    bcrypt.DefaultCost,
	}
}

func (s *Service) Register(ctx context.Context, id domain.IdentityID, email, password string) error {
	_ = ctx
	email = domain.NormalizeEmail(email)
	if id == "" || email == "" || password == "" {
		return errors.New("id, email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.Cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return credentials.ErrAlreadyExists
	}
	if _, ok := s.emailOf[id]; ok {
		return credentials.ErrAlreadyExists
	}
	s.byEmail[email] = account{id: id, hash: hash}
	s.emailOf[id] = email
	return nil
}

func (s *Service) Verify(ctx context.Context, email, password string) (credentials.Principal, error) {
	_ = ctx
	email = domain.NormalizeEmail(email)

	s.mu.RLock()
	acct, ok := s.byEmail[email]
	s.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return credentials.Principal{}, credentials.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return credentials.Principal{}, credentials.ErrInvalidCredentials
	}
	return credentials.Principal{ID: acct.id, Email: email}, nil
}

func (s *Service) Invalidate(ctx context.Context, id domain.IdentityID) error {
	_ = ctx
	if strings.TrimSpace(string(id)) == "" {
		return credentials.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emailOf[id]; !ok {
		return credentials.ErrNotFound
	}
	s.revoked[id] = s.clk.Now().UTC()
	return nil
}

func (s *Service) InvalidatedAt(ctx context.Context, id domain.IdentityID) (time.Time, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.revoked[id]
	return at, ok, nil
}
