package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidStreamToken covers every validation failure for a stream token:
// bad signature, unexpected signing method, expiry, or malformed claims.
var ErrInvalidStreamToken = errors.New("invalid or expired stream token")

// StreamTokenClaims scopes a short-lived token to exactly one file for one
// user — the stream handlers in internal/api validate these before serving
// bytes (§6's "short-lived scoped token" requirement for the /stream/file
// and /stream/hls endpoints).
type StreamTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
	FileID uuid.UUID `json:"fid"`
}

// StreamTokenIssuer signs and verifies scoped stream tokens with a single
// server-held secret (HS256) — distinct from the primary session JWT
// issued by SessionIssuer, and never accepted for any other endpoint.
type StreamTokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewStreamTokenIssuer(secret []byte, ttl time.Duration) *StreamTokenIssuer {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &StreamTokenIssuer{secret: secret, ttl: ttl}
}

// Issue mints a token scoped to userID's access to fileID.
func (i *StreamTokenIssuer) Issue(userID, fileID uuid.UUID) (string, error) {
	now := time.Now()
	claims := StreamTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID: userID,
		FileID: fileID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate parses and verifies a token, returning its claims if it is
// well-formed, correctly signed, and unexpired.
func (i *StreamTokenIssuer) Validate(raw string) (*StreamTokenClaims, error) {
	claims := &StreamTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidStreamToken
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidStreamToken
	}
	return claims, nil
}
