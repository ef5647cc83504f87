package auth

import (
	"context"
	"net/http"
)

// StaticToken sends a token obtained outside the probe, such as an OIDC ID
// token, on every request.
type StaticToken struct {
	token string
}

func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: token}
}

func (s *StaticToken) Token(context.Context) (string, error) {
	return s.token, nil
}

func (s *StaticToken) Authorize(_ context.Context, req *http.Request) error {
	setBearer(req, s.token)
	return nil
}

func (s *StaticToken) Close() error { return nil }
