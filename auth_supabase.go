package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

type SupabaseAuth struct {
	client *SupabaseClient
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         *gotrueUser `json:"user"`
}

// gotrueSignUp covers both answers of the signup endpoint: a session when
// e-mail confirmation is off, the bare user when it is on.
type gotrueSignUp struct {
	gotrueSession
	gotrueUser
}

func NewSupabaseAuth(client *SupabaseClient) *SupabaseAuth {
	return &SupabaseAuth{
		client: client,
	}
}

func (a *SupabaseAuth) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	var resp gotrueSignUp

	err := a.client.Do(ctx, supabaseRequest{
		Service: "auth",
		Method:  http.MethodPost,
		Path:    "/auth/v1/signup",
		Body: map[string]string{
			"email":    email,
			"password": password,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.AccessToken != "" && resp.User != nil {
		session := resp.gotrueSession.toSession()

		return &SignUpResult{
			User:    session.User,
			Session: session,
		}, nil
	}

	user := resp.gotrueUser

	if resp.User != nil {
		user = *resp.User
	}

	return &SignUpResult{
		User: &User{
			ID:    user.ID,
			Email: user.Email,
		},
		ConfirmationPending: true,
	}, nil
}

func (a *SupabaseAuth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp gotrueSession

	err := a.client.Do(ctx, supabaseRequest{
		Service: "auth",
		Method:  http.MethodPost,
		Path:    "/auth/v1/token",
		Query:   url.Values{"grant_type": {"password"}},
		Body: map[string]string{
			"email":    email,
			"password": password,
		},
	}, &resp)
	if err != nil {
		var remote *RemoteError

		if errors.As(err, &remote) && remote.Status == http.StatusBadRequest {
			return nil, ErrInvalidCredentials
		}

		return nil, err
	}

	if resp.AccessToken == "" || resp.User == nil {
		return nil, ErrInvalidCredentials
	}

	return resp.toSession(), nil
}

// Refresh exchanges a refresh token for a new session. Refresh tokens are
// single use, the returned session carries the next one.
func (a *SupabaseAuth) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var resp gotrueSession

	err := a.client.Do(ctx, supabaseRequest{
		Service: "auth",
		Method:  http.MethodPost,
		Path:    "/auth/v1/token",
		Query:   url.Values{"grant_type": {"refresh_token"}},
		Body: map[string]string{
			"refresh_token": refreshToken,
		},
	}, &resp)
	if err != nil {
		var remote *RemoteError

		if errors.As(err, &remote) && (remote.Status == http.StatusBadRequest || remote.Status == http.StatusUnauthorized) {
			return nil, ErrUnauthorized
		}

		return nil, err
	}

	if resp.AccessToken == "" || resp.User == nil {
		return nil, ErrUnauthorized
	}

	return resp.toSession(), nil
}

func (a *SupabaseAuth) SignOut(ctx context.Context, token string) error {
	return a.client.Do(ctx, supabaseRequest{
		Service: "auth",
		Method:  http.MethodPost,
		Path:    "/auth/v1/logout",
		Token:   token,
	}, nil)
}

func (a *SupabaseAuth) User(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	var resp gotrueUser

	err := a.client.Do(ctx, supabaseRequest{
		Service: "auth",
		Method:  http.MethodGet,
		Path:    "/auth/v1/user",
		Token:   token,
	}, &resp)
	if err != nil {
		var remote *RemoteError

		if errors.As(err, &remote) && (remote.Status == http.StatusUnauthorized || remote.Status == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}

		return nil, err
	}

	if resp.ID == "" {
		return nil, ErrUnauthorized
	}

	return &User{
		ID:    resp.ID,
		Email: resp.Email,
		Token: token,
	}, nil
}

func (s *gotrueSession) toSession() *Session {
	expires := time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)

	if s.ExpiresAt > 0 {
		expires = time.Unix(s.ExpiresAt, 0)
	}

	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expires,
		User: &User{
			ID:    s.User.ID,
			Email: s.User.Email,
			Token: s.AccessToken,
		},
	}
}
