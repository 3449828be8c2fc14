package auth

import "net/http"

// StaticAuthenticator is a development-only authenticator that accepts any tgk_ key.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(r *http.Request) (*Project, error) {
	token, err := ExtractAPIKey(r)
	if err != nil {
		return nil, err
	}
	if len(token) < 8 {
		return nil, ErrUnauthenticated
	}
	// Accept any tgk_ prefixed key with a static project ID
	return &Project{
		ID:       "static-" + token[:8],
		Mode:     "enforce",
		FailOpen: true,
	}, nil
}
