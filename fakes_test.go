package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer

	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

type memoryStorage struct {
	mx sync.Mutex

	objects   map[string][]byte
	types     map[string]string
	removeErr error
	calls     []string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *memoryStorage) Upload(ctx context.Context, user *User, path, contentType string, r io.Reader) error {
	err := checkObjectPath(user, path)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	m.objects[path] = data
	m.types[path] = contentType
	m.calls = append(m.calls, "upload:"+path)

	return nil
}

func (m *memoryStorage) List(ctx context.Context, user *User, prefix string, opts ListOptions) ([]StoredObject, error) {
	err := checkPrefix(user, prefix)
	if err != nil {
		return nil, err
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	var objects []StoredObject

	for path, data := range m.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}

		objects = append(objects, StoredObject{
			Name: strings.TrimPrefix(path, prefix),
			Size: int64(len(data)),
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name < objects[j].Name
	})

	return paginate(objects, opts.Offset, opts.Limit), nil
}

func (m *memoryStorage) Remove(ctx context.Context, user *User, paths []string) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.calls = append(m.calls, "remove:"+strings.Join(paths, ","))

	if m.removeErr != nil {
		return m.removeErr
	}

	for _, path := range paths {
		delete(m.objects, path)
	}

	return nil
}

func (m *memoryStorage) PublicURL(path string) string {
	return "https://cdn.test/images/" + path
}

type memoryIndex struct {
	mx sync.Mutex

	records   map[string]ImageRecord
	matches   []Match
	lastQuery SearchQuery
	deleted   []string
	inserted  chan ImageRecord
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{
		records:  make(map[string]ImageRecord),
		inserted: make(chan ImageRecord, 16),
	}
}

func (m *memoryIndex) Insert(ctx context.Context, user *User, record ImageRecord) error {
	m.mx.Lock()
	m.records[record.ImageID] = record
	m.mx.Unlock()

	m.inserted <- record

	return nil
}

func (m *memoryIndex) Delete(ctx context.Context, user *User, imageID string) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	delete(m.records, imageID)

	m.deleted = append(m.deleted, imageID)

	return nil
}

func (m *memoryIndex) Search(ctx context.Context, user *User, query SearchQuery) ([]Match, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.lastQuery = query

	return m.matches, nil
}

func (m *memoryIndex) Has(ctx context.Context, user *User, imageID string) (bool, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	_, ok := m.records[imageID]

	return ok, nil
}

type staticEmbedder struct {
	mx sync.Mutex

	embedding []float32
	err       error
	images    []string
	prompts   []string
}

func (s *staticEmbedder) EmbedImage(ctx context.Context, imageURL string) ([]float32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.images = append(s.images, imageURL)

	return s.embedding, s.err
}

func (s *staticEmbedder) EmbedText(ctx context.Context, prompt string) ([]float32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.prompts = append(s.prompts, prompt)

	return s.embedding, s.err
}

type tokenAuth struct {
	users map[string]*User
}

func (a *tokenAuth) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	return &SignUpResult{
		User:                &User{ID: "new", Email: email},
		ConfirmationPending: true,
	}, nil
}

func (a *tokenAuth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	for token, user := range a.users {
		if user.Email == email && password == "secret" {
			return &Session{
				AccessToken: token,
				ExpiresAt:   time.Now().Add(time.Hour),
				User:        user,
			}, nil
		}
	}

	return nil, ErrInvalidCredentials
}

func (a *tokenAuth) SignOut(ctx context.Context, token string) error {
	return nil
}

func (a *tokenAuth) User(ctx context.Context, token string) (*User, error) {
	user, ok := a.users[token]
	if !ok {
		return nil, ErrUnauthorized
	}

	copied := *user

	return &copied, nil
}

func testProxy(t *testing.T) *Imgproxy {
	t.Helper()

	proxy, err := NewImgproxy(PicConfigImgproxy{
		URL:    "http://imgproxy.test",
		Width:  300,
		Format: "webp",
	})
	require.NoError(t, err)

	return proxy
}

func testGalleryOptions() GalleryOptions {
	return GalleryOptions{
		PageSize:     100,
		MaxFileSize:  1 << 20,
		Threshold:    0.24,
		MatchCount:   6,
		Quality:      90,
		IndexTimeout: 5 * time.Second,
		Suggestions:  []string{"dogs", "car"},
	}
}

// refreshingAuth hands out a new access token for every known refresh token.
type refreshingAuth struct {
	tokenAuth

	refresh map[string]string
}

func (a *refreshingAuth) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	token, ok := a.refresh[refreshToken]
	if !ok {
		return nil, ErrUnauthorized
	}

	user := *a.users[token]

	user.Token = token

	return &Session{
		AccessToken:  token,
		RefreshToken: refreshToken + "-next",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         &user,
	}, nil
}
