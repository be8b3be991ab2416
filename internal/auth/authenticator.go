package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// TokenQueryParam is the handshake field checked before any header.
const TokenQueryParam = "token"

var (
	// ErrAuthenticationMissing means the handshake carried no credential.
	ErrAuthenticationMissing = errors.New("authentication missing")
	// ErrAuthenticationInvalid means a credential was supplied but rejected.
	ErrAuthenticationInvalid = errors.New("authentication invalid")
)

// ExtractCredential returns the bearer credential from a handshake request.
// The token query parameter wins; otherwise the Authorization header is
// used, with or without a "Bearer " prefix.
func ExtractCredential(r *http.Request) string {
	if r == nil {
		return ""
	}

	if token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); token != "" {
		return token
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return authz
}

// Authenticator gates new connections on a Verifier.
type Authenticator struct {
	verifier Verifier
}

// NewAuthenticator wraps the given verifier.
func NewAuthenticator(v Verifier) *Authenticator {
	return &Authenticator{verifier: v}
}

// Authenticate resolves the identity for a handshake request. The returned
// error matches ErrAuthenticationMissing or ErrAuthenticationInvalid.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	token := ExtractCredential(r)
	if token == "" {
		return Identity{}, ErrAuthenticationMissing
	}

	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, &invalidError{cause: err}
	}
	if identity.UserID == "" {
		return Identity{}, &invalidError{cause: ErrTokenInvalid}
	}
	return identity, nil
}

// invalidError keeps the verifier's cause reachable through errors.Is while
// also matching ErrAuthenticationInvalid.
type invalidError struct {
	cause error
}

func (e *invalidError) Error() string {
	return ErrAuthenticationInvalid.Error() + ": " + e.cause.Error()
}

func (e *invalidError) Is(target error) bool {
	return target == ErrAuthenticationInvalid
}

func (e *invalidError) Unwrap() error {
	return e.cause
}

// Reason returns a client-facing explanation for an authentication error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationMissing):
		return "authentication token is required"
	case errors.Is(err, ErrTokenExpired):
		return "authentication token has expired"
	case errors.Is(err, ErrAuthenticationInvalid):
		return "authentication token is invalid"
	default:
		return "authentication failed"
	}
}

// Code returns the machine-readable error tag for an authentication error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationMissing):
		return "authentication_missing"
	case errors.Is(err, ErrAuthenticationInvalid):
		return "authentication_invalid"
	default:
		return "authentication_error"
	}
}
