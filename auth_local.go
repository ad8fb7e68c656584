package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

type LocalAuth struct {
	db  *Database
	ttl time.Duration
}

func NewLocalAuth(db *Database, ttl time.Duration) *LocalAuth {
	return &LocalAuth{
		db:  db,
		ttl: ttl,
	}
}

func (a *LocalAuth) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	email = normalizeEmail(email)

	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidCredentials
	}

	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	exists, err := a.db.db.NewSelect().Model((*UserRow)(nil)).Where("email = ?", email).Exists(ctx)
	if err != nil {
		return nil, err
	}

	if exists {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	row := &UserRow{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
	}

	_, err = a.db.db.NewInsert().Model(row).Exec(ctx)
	if err != nil {
		return nil, err
	}

	session, err := a.createSession(ctx, row)
	if err != nil {
		return nil, err
	}

	return &SignUpResult{
		User:    session.User,
		Session: session,
	}, nil
}

func (a *LocalAuth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	row := new(UserRow)

	err := a.db.db.NewSelect().Model(row).Where("email = ?", normalizeEmail(email)).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}

		return nil, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	return a.createSession(ctx, row)
}

func (a *LocalAuth) SignOut(ctx context.Context, token string) error {
	_, err := a.db.db.NewDelete().Model((*SessionRow)(nil)).Where("token = ?", token).Exec(ctx)

	return err
}

func (a *LocalAuth) User(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	session := new(SessionRow)

	err := a.db.db.NewSelect().Model(session).Relation("User").Where("s.token = ?", token).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}

		return nil, err
	}

	if session.User == nil {
		return nil, ErrUnauthorized
	}

	if time.Now().After(session.ExpiresAt) {
		_ = a.SignOut(ctx, token)

		return nil, ErrUnauthorized
	}

	return &User{
		ID:    session.User.ID,
		Email: session.User.Email,
		Token: token,
	}, nil
}

// PurgeSessions removes expired sessions.
func (a *LocalAuth) PurgeSessions(ctx context.Context) (int64, error) {
	res, err := a.db.db.NewDelete().Model((*SessionRow)(nil)).Where("expires_at < ?", time.Now()).Exec(ctx)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (a *LocalAuth) createSession(ctx context.Context, user *UserRow) (*Session, error) {
	row := &SessionRow{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(a.ttl),
	}

	_, err := a.db.db.NewInsert().Model(row).Exec(ctx)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken: row.Token,
		ExpiresAt:   row.ExpiresAt,
		User: &User{
			ID:    user.ID,
			Email: user.Email,
			Token: row.Token,
		},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
