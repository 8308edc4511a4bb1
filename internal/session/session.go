package session

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidity is how long an issued session token stays valid. There
// is no server-side revocation: a compromised token remains usable until
// this window ends, a deliberate simplicity tradeoff.
const DefaultValidity = 365 * 24 * time.Hour

var (
	// ErrMalformedToken indicates a token that does not parse or whose
	// signature does not validate.
	ErrMalformedToken = errors.New("invalid session token")

	// ErrExpired indicates a structurally valid token past its expiry.
	ErrExpired = errors.New("session token expired")

	// ErrOriginDenied indicates the observed network origin is not on the
	// token's allow-list.
	ErrOriginDenied = errors.New("origin not allowed for this session")
)

// Claims is the broker's session claim: the principal in the registered
// subject, plus an optional origin allow-list.
type Claims struct {
	Origins []string `json:"origins,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies the broker's signed session tokens.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// New creates an Issuer signing with the given process-wide secret.
func New(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// Issue mints a token for principal, valid for validity from now. A
// non-empty origins list restricts where the token may be presented from;
// an empty list means no restriction.
func (i *Issuer) Issue(principal string, origins []string, validity time.Duration) (string, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}
	now := i.now()
	claims := &Claims{
		Origins: origins,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify validates a token and, when the token carries an origin
// allow-list and observedOrigin is non-empty, checks membership. It
// returns the principal and the allow-list on success.
func (i *Issuer) Verify(token, observedOrigin string) (string, []string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", nil, ErrExpired
	case err != nil, !parsed.Valid:
		return "", nil, ErrMalformedToken
	}

	if len(claims.Origins) > 0 && observedOrigin != "" &&
		!slices.Contains(claims.Origins, observedOrigin) {
		return "", nil, ErrOriginDenied
	}

	return claims.Subject, claims.Origins, nil
}
