// Package auth verifies bearer credentials presented during the WebSocket
// handshake and turns them into user identities.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	// ErrTokenExpired is returned when a token is well formed but past its expiry.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenInvalid is returned for malformed tokens, bad signatures and
	// tokens missing a subject.
	ErrTokenInvalid = errors.New("invalid token")
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID string
	Name   string
}

// DisplayName returns the name claim, or the user id when no name was issued.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.UserID
}

// Verifier validates a raw credential and extracts the identity it carries.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTConfig holds JWT verification settings.
type JWTConfig struct {
	Secret string
	// Issuer is checked against the iss claim when non-empty.
	Issuer string
	// Leeway tolerates small clock skew on exp/nbf.
	Leeway time.Duration
}

// Claims are the access-token claims consumed by the realtime service.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-signed access tokens.
type JWTVerifier struct {
	config JWTConfig
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with cfg.Secret.
func NewJWTVerifier(cfg JWTConfig) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	return &JWTVerifier{
		config: cfg,
		parser: jwt.NewParser(opts...),
	}
}

// Verify parses the token and returns the identity in its sub and name claims.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(v.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, errors.Wrap(ErrTokenInvalid, err.Error())
	}
	if !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Identity{}, errors.Wrap(ErrTokenInvalid, "missing subject")
	}

	return Identity{UserID: userID, Name: claims.Name}, nil
}

// SignToken issues an HS256 access token for the given user. Token issuance
// belongs to the accounts service; this exists for local tooling and tests.
func SignToken(cfg JWTConfig, userID, name string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
