// Package auth obtains the bearer token a session uses against the store.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/internal"
)

type Provider interface {
	AcquireToken(ctx context.Context) (string, error)
}

// ClientCredentials runs the OAuth2 client credentials grant against the
// credential's tenant token endpoint.
type ClientCredentials struct {
	cfg clientcredentials.Config
}

func NewClientCredentials(cred *backend.ClientCredential) (*ClientCredentials, error) {
	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("client credential %q: %w", cred.Name, err)
	}
	return &ClientCredentials{cfg: clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     cred.TokenURL(),
		Scopes:       cred.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}}, nil
}

func (c *ClientCredentials) AcquireToken(ctx context.Context) (string, error) {
	tok, err := c.cfg.Token(ctx)
	if err != nil {
		return "", &backend.AuthError{Err: err}
	}
	if tok.AccessToken == "" {
		return "", &backend.AuthError{Err: fmt.Errorf("token endpoint returned no access_token")}
	}
	return tok.AccessToken, nil
}

type Static struct {
	Token string
}

func (s Static) AcquireToken(context.Context) (string, error) {
	if strings.TrimSpace(s.Token) == "" {
		return "", &backend.AuthError{Err: fmt.Errorf("empty token")}
	}
	return s.Token, nil
}

// FromCredential picks the provider matching a stored credential.
func FromCredential(cred backend.Credential) (Provider, error) {
	switch c := cred.(type) {
	case *backend.ClientCredential:
		return NewClientCredentials(c)
	case *backend.TokenCredential:
		return Static{Token: c.Token}, nil
	default:
		return nil, fmt.Errorf("credential %q of type %s cannot issue bearer tokens", cred.GetName(), cred.GetType())
	}
}

// once acquires a token the first time and hands out the same one after.
type once struct {
	p   Provider
	mu  sync.Mutex
	tok string
}

// Once wraps p so the token is acquired a single time per session.
func Once(p Provider) Provider {
	return &once{p: p}
}

func (o *once) AcquireToken(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tok != "" {
		return o.tok, nil
	}
	tok, err := o.p.AcquireToken(ctx)
	if err != nil {
		return "", err
	}
	o.tok = tok
	return tok, nil
}

// ExpiresAt reads the exp claim without verifying the signature. Opaque
// tokens report ok == false.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// WarnIfExpiring logs the token lifetime and warns when it ends within window.
// Tokens are never refreshed mid-session.
func WarnIfExpiring(token string, window time.Duration, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	internal.Debug("bearer token acquired", internal.Fields{
		internal.FieldExpiresAt: exp.Format(time.RFC3339),
	})
	if exp.Sub(now) > window {
		return false
	}
	internal.Warn("bearer token expires soon and will not be refreshed", internal.Fields{
		internal.FieldExpiresAt: exp.Format(time.RFC3339),
	})
	return true
}
