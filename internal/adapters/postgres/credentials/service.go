package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	postgres "github.com/yellowbus/route-tracker/internal/adapters/postgres"
	"github.com/yellowbus/route-tracker/internal/domain"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
	"github.com/yellowbus/route-tracker/internal/ports/out/credentials"
)

// Service is a Postgres implementation of credentials.Service.
type Service struct {
	pool *pgxpool.Pool
	clk  clockport.Clock

	// Cost is the bcrypt cost used by Register.
	Cost int
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)

func NewService(pool *pgxpool.Pool, clk clockport.Clock) *Service {
	return &Service{pool: pool, clk: clk, Cost: bcrypt.DefaultCost}
}

func (s *Service) Register(ctx context.Context, id domain.IdentityID, email, password string) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	email = domain.NormalizeEmail(email)
	if id == "" || email == "" || password == "" {
		return errors.New("id, email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.Cost)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (identity_id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, string(id), email, string(hash), s.clk.Now().UTC())
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode {
			return credentials.ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Service) Verify(ctx context.Context, email, password string) (credentials.Principal, error) {
	if s.pool == nil {
		return credentials.Principal{}, errors.New("nil postgres pool")
	}
	email = domain.NormalizeEmail(email)

	var id, hash string
	err := s.pool.QueryRow(ctx, `
		SELECT identity_id, password_hash
		FROM accounts
		WHERE email = $1
	`, email).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return credentials.Principal{}, credentials.ErrInvalidCredentials
		}
		return credentials.Principal{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return credentials.Principal{}, credentials.ErrInvalidCredentials
	}
	return credentials.Principal{ID: domain.IdentityID(id), Email: email}, nil
}

func (s *Service) Invalidate(ctx context.Context, id domain.IdentityID) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	if strings.TrimSpace(string(id)) == "" {
		return credentials.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET revoked_at = $2
		WHERE identity_id = $1
	`, string(id), s.clk.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

func (s *Service) InvalidatedAt(ctx context.Context, id domain.IdentityID) (time.Time, bool, error) {
	if s.pool == nil {
		return time.Time{}, false, errors.New("nil postgres pool")
	}
	var revoked *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT revoked_at
		FROM accounts
		WHERE identity_id = $1
	`, string(id)).Scan(&revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if revoked == nil {
		return time.Time{}, false, nil
	}
	return revoked.UTC(), true, nil
}
