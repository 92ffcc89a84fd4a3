package oidc

import (
	stderrors "errors"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

// idClaims is the claim set carried by provider ID tokens.
type idClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// TokenValidator verifies provider-issued ID tokens against the provider's
// JWKS endpoint.
type TokenValidator struct {
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
}

// NewTokenValidator fetches the JWKS and returns a validator. The key set
// refreshes in the background for the life of the process.
func NewTokenValidator(cfg Config) (*TokenValidator, error) {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = cfg.Issuer + defaultJWKSPath
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to fetch provider JWKS")
	}

	return &TokenValidator{
		jwks:     jwks,
		issuer:   cfg.Issuer,
		audience: cfg.ClientID,
	}, nil
}

// Validate verifies signature, issuer, audience, and expiry, and returns the
// account the token asserts.
func (v *TokenValidator) Validate(idToken string) (*session.Account, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	claims := &idClaims{}
	token, err := jwt.ParseWithClaims(idToken, claims, v.jwks.Keyfunc, options...)
	if err != nil {
		return nil, normalizeTokenError(err)
	}
	if !token.Valid {
		return nil, session.ErrFederatedSessionExpired
	}

	return claims.account(), nil
}

func (c *idClaims) account() *session.Account {
	return &session.Account{
		ID:            c.Subject,
		Email:         c.Email,
		DisplayName:   c.Name,
		EmailVerified: c.EmailVerified,
	}
}

// claimsUnverified decodes the ID token claims without verifying the
// signature. Only used when no validator is configured.
func claimsUnverified(idToken string) (*session.Account, error) {
	claims := &idClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, normalizeTokenError(err)
	}
	return claims.account(), nil
}

func normalizeTokenError(err error) error {
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		clone := session.ErrFederatedSessionExpired.Clone()
		clone.Source = err
		return clone
	}
	return goerrors.Wrap(err, goerrors.CategoryAuth, "invalid provider id token").
		WithTextCode("invalid_id_token")
}
