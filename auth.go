package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	SessionCookie  = "picsearch_session"
	RefreshCookie  = "picsearch_refresh"
	userContextKey = "user"

	RefreshCookieMaxAge = 30 * 24 * 60 * 60
)

// User is the signed-in principal. Token is forwarded to the storage and
// index backends so row level policies apply to every call.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Token string `json:"-"`
}

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

type SignUpResult struct {
	User                *User    `json:"user"`
	ConfirmationPending bool     `json:"confirmation_pending"`
	Session             *Session `json:"session,omitempty"`
}

type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, token string) error
	User(ctx context.Context, token string) (*User, error)
}

// SessionRefresher is implemented by backends whose access tokens expire
// before the session does.
type SessionRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// authenticate resolves the session token (cookie or bearer) into a user.
// An expired access token is renewed with the refresh cookie when the
// backend supports it. It never aborts, pages decide themselves what an
// anonymous visitor sees.
func authenticate(auth Authenticator) gin.HandlerFunc {
	refresher, _ := auth.(SessionRefresher)

	return func(c *gin.Context) {
		var (
			user *User
			err  error = ErrUnauthorized
		)

		token := sessionToken(c)
		if token != "" {
			user, err = auth.User(c.Request.Context(), token)
			if err == nil {
				user.Token = token
			}
		}

		if errors.Is(err, ErrUnauthorized) && refresher != nil {
			user, err = refreshSession(c, refresher)
		}

		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				log.WarningF("Failed to resolve session: %v\n", err)
			}

			c.Next()

			return
		}

		c.Set(userContextKey, user)

		c.Next()
	}
}

func refreshSession(c *gin.Context, refresher SessionRefresher) (*User, error) {
	refreshToken, err := c.Cookie(RefreshCookie)
	if err != nil || refreshToken == "" {
		return nil, ErrUnauthorized
	}

	session, err := refresher.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			clearSessionCookie(c)
		}

		return nil, err
	}

	setSessionCookie(c, session)

	return session.User, nil
}

func requireUser(c *gin.Context) {
	if currentUser(c) == nil {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")

		return
	}

	c.Next()
}

func currentUser(c *gin.Context) *User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}

	user, _ := value.(*User)

	return user
}

func sessionToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")

	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}

	token, err := c.Cookie(SessionCookie)
	if err != nil {
		return ""
	}

	return token
}

func setSessionCookie(c *gin.Context, session *Session) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = 3600
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, session.AccessToken, maxAge, "/", "", config.Server.CookieSecure, true)

	if session.RefreshToken != "" {
		c.SetCookie(RefreshCookie, session.RefreshToken, RefreshCookieMaxAge, "/", "", config.Server.CookieSecure, true)
	}
}

func clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", config.Server.CookieSecure, true)
	c.SetCookie(RefreshCookie, "", -1, "/", "", config.Server.CookieSecure, true)
}
