package dispatch

import (
	"context"
	"encoding/base64"
	"net/http"
)

// Authorizer attaches credentials to an outbound request.
type Authorizer interface {
	Authorize(ctx context.Context, h http.Header) error
}

// TokenSource yields bearer tokens; *token.Cache satisfies it.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// BearerAuth sets "Authorization: Bearer <token>".
type BearerAuth struct {
	Tokens TokenSource
}

func (a BearerAuth) Authorize(ctx context.Context, h http.Header) error {
	tok, err := a.Tokens.GetToken(ctx)
	if err != nil {
		return err
	}
	h.Set("Authorization", "Bearer "+tok)
	return nil
}

// BasicAuth sets HTTP Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Authorize(_ context.Context, h http.Header) error {
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password)))
	return nil
}

// HeaderAuth sets fixed headers such as an API key.
type HeaderAuth map[string]string

func (a HeaderAuth) Authorize(_ context.Context, h http.Header) error {
	for k, v := range a {
		h.Set(k, v)
	}
	return nil
}

// NoAuth leaves the request untouched; credentials travel in the payload.
type NoAuth struct{}

func (NoAuth) Authorize(context.Context, http.Header) error { return nil }
