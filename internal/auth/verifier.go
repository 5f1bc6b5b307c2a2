// Package auth verifies provider-issued identity tokens. The client
// application authenticates against an external identity provider; this
// service only checks the resulting ID token (OIDC) and extracts the owner
// identity from it. There are no local credentials or sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"

	"probill/internal/types"
)

// idTokenVerifier is the subset of *oidc.IDTokenVerifier this package uses;
// declared as an interface for test injection.
type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// IdentityVerifier resolves bearer tokens to Actors by verifying them as OIDC
// ID tokens against the configured issuer. It implements core.Authenticator.
type IdentityVerifier struct {
	verifier idTokenVerifier
	logger   *slog.Logger
}

// NewIdentityVerifier constructs an IdentityVerifier by discovering the
// issuer's OIDC configuration (JWKS endpoint, signing algorithms). Discovery
// failure is a startup error: the service must not boot with an unverifiable
// auth path.
func NewIdentityVerifier(ctx context.Context, issuerURL, audience string, logger *slog.Logger) (*IdentityVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC issuer %s: %w", issuerURL, err)
	}

	return &IdentityVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
		logger:   logger,
	}, nil
}

// ResolveToken verifies the raw bearer token and returns the Actor it
// identifies. The token's subject claim becomes the owner id; the email claim
// is carried along when present.
func (a *IdentityVerifier) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		var expiredErr *oidc.TokenExpiredError
		if errors.As(err, &expiredErr) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "identity token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "identity token verification failed", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		// Email is optional; a claims decode failure only loses it.
		a.logger.Warn("failed to decode identity token claims", "error", err)
	}

	return actorFromIdentity(idToken.Subject, claims.Email)
}

// actorFromIdentity maps verified token claims to an Actor. A token without a
// subject identifies nobody and is rejected.
func actorFromIdentity(subject, email string) (*types.Actor, error) {
	if subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "identity token carries no subject", nil)
	}
	return &types.Actor{ID: subject, Email: email}, nil
}
