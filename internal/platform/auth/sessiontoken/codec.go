package sessiontoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yellowbus/route-tracker/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
)

// MinSecretLength is the shortest accepted HS256 secret, in bytes.
const MinSecretLength = 32

// Config configures HS256 identity tokens.
type Config struct {
	Secret    string
	Issuer    string
	TTL       time.Duration
	ClockSkew time.Duration
}

// Claims carry the resolved identity so requests never re-probe the driver registry.
type Claims struct {
	Role           string       `json:"role"`
	Profile        ProfileClaim `json:"profile"`
	IssuedAtMillis int64        `json:"iat_ms"`
	jwt.RegisteredClaims
}

type ProfileClaim struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Route       string `json:"route,omitempty"`
	BusNumber   string `json:"busNumber,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Codec issues and parses identity tokens.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration

	newID func() string
}

func New(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session token secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.Issuer == "" {
		return nil, errors.New("session token issuer is required")
	}
	if cfg.TTL < 0 || cfg.ClockSkew < 0 {
		return nil, errors.New("session token durations must not be negative")
	}
	return &Codec{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		skew:   cfg.ClockSkew,
		newID:  uuid.NewString,
	}, nil
}

// Issue signs a token for identity. A zero TTL issues a token that only sign-out revokes.
func (c *Codec) Issue(identity domain.Identity, issuedAt time.Time) (string, error) {
	if !identity.Valid() {
		return "", fmt.Errorf("cannot issue token for invalid identity %q", identity.ID)
	}
	claims := Claims{
		Role:           string(identity.Role),
		Profile:        profileClaim(identity),
		IssuedAtMillis: issuedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   string(identity.ID),
			ID:        c.newID(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(c.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Parse verifies raw at now and returns the identity and its millisecond issue time.
func (c *Codec) Parse(raw string, now time.Time) (domain.Identity, time.Time, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuedAt(),
	)
	var claims Claims
	tok, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return domain.Identity{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return domain.Identity{}, time.Time{}, ErrInvalidToken
	}

	identity, err := identityFromClaims(claims)
	if err != nil {
		return domain.Identity{}, time.Time{}, err
	}

	issuedAt := time.UnixMilli(claims.IssuedAtMillis).UTC()
	if claims.IssuedAtMillis == 0 && claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.UTC()
	}
	return identity, issuedAt, nil
}

func profileClaim(identity domain.Identity) ProfileClaim {
	switch {
	case identity.Driver != nil:
		d := identity.Driver
		return ProfileClaim{FirstName: d.FirstName, LastName: d.LastName, Route: string(d.RouteID), BusNumber: d.BusNumber, PhoneNumber: d.PhoneNumber}
	case identity.Rider != nil:
		r := identity.Rider
		return ProfileClaim{FirstName: r.FirstName, LastName: r.LastName, Route: string(r.RouteID), PhoneNumber: r.PhoneNumber}
	default:
		return ProfileClaim{}
	}
}

func identityFromClaims(c Claims) (domain.Identity, error) {
	id := domain.IdentityID(c.Subject)
	role, ok := domain.ParseRole(c.Role)
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	p := c.Profile
	if role == domain.RoleDriver {
		return domain.NewDriverIdentity(domain.DriverProfile{
			ID:          id,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			RouteID:     domain.RouteID(p.Route),
			BusNumber:   p.BusNumber,
			PhoneNumber: p.PhoneNumber,
		}), nil
	}
	return domain.NewRiderIdentity(domain.RiderProfile{
		ID:          id,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		RouteID:     domain.RouteID(p.Route),
		PhoneNumber: p.PhoneNumber,
	}), nil
}
