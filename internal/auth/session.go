package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidSession covers every validation failure for a primary session
// token: bad signature, expiry, or malformed claims.
var ErrInvalidSession = errors.New("invalid or expired session")

// SessionClaims identifies the authenticated caller for every endpoint
// except the scoped streaming surface, which instead requires a
// StreamTokenClaims token (§9's redesign away from the teacher's
// unauthenticated HLS delivery).
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

// SessionIssuer signs and verifies the primary login session, replacing the
// teacher's opaque GenerateToken()-plus-sessions-table scheme with a
// self-contained JWT — there is no session store to revoke against in this
// deployment's single-user scope.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionIssuer(secret []byte, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionIssuer{secret: secret, ttl: ttl}
}

func (i *SessionIssuer) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *SessionIssuer) Validate(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
