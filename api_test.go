package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router  *gin.Engine
	gallery *Gallery
	storage *memoryStorage
	index   *memoryIndex
}

func newTestServer(t *testing.T) *testServer {
	gallery, storage, index, _ := newTestGallery(t)

	auth := &tokenAuth{
		users: map[string]*User{
			"token-1": {ID: "user-1", Email: "one@example.com"},
		},
	}

	server := NewServer(auth, gallery, nil, nil, 1<<20)

	router, err := server.Router()
	require.NoError(t, err)

	t.Cleanup(gallery.Wait)

	return &testServer{
		router:  router,
		gallery: gallery,
		storage: storage,
		index:   index,
	}
}

func (s *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	return rec
}

func TestAPIRequiresSession(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/images", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/api/images", nil), "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPISession(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/session", nil), "token-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":{"id":"user-1","email":"one@example.com"}}`, rec.Body.String())

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/api/session", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())
}

func TestAPIUploadListDelete(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile(UploadField, "photo.png")
	require.NoError(t, err)

	_, err = part.Write(testPNG(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := srv.do(req, "token-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var uploaded GalleryImage

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.NotEmpty(t, uploaded.Name)

	select {
	case <-srv.index.inserted:
	case <-time.After(5 * time.Second):
		t.Fatal("image was not indexed")
	}

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/api/images", nil), "token-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var images []GalleryImage

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 1)
	assert.Equal(t, uploaded.Name, images[0].Name)

	rec = srv.do(httptest.NewRequest(http.MethodDelete, "/api/images/"+uploaded.Name, nil), "token-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	assert.Empty(t, srv.storage.objects)
	assert.Equal(t, []string{uploaded.Name}, srv.index.deleted)
}

func TestAPIUploadRejectsText(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile(UploadField, "notes.txt")
	require.NoError(t, err)

	_, _ = part.Write([]byte("just some text"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := srv.do(req, "token-1")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAPISearch(t *testing.T) {
	srv := newTestServer(t)

	srv.index.matches = []Match{
		{ImageID: "abc", ImageURL: "https://cdn.test/images/user-1/abc", Similarity: 0.5},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"prompt":"dogs"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := srv.do(req, "token-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Prompt  string            `json:"prompt"`
		Results []SearchImage     `json:"results"`
		Timings map[string]string `json:"timings"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	assert.Equal(t, "dogs", result.Prompt)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "abc", result.Results[0].Name)
	assert.Contains(t, result.Timings, "embedding")
	assert.Contains(t, result.Timings, "search")

	req = httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"prompt":""}`))
	req.Header.Set("Content-Type", "application/json")

	rec = srv.do(req, "token-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"prompt is empty"}`, rec.Body.String())
}

func TestAPISuggestions(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/suggestions", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["dogs","car"]`, rec.Body.String())
}

func TestPagesLoginFlow(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `formaction="/login"`)

	form := url.Values{"email": {"one@example.com"}, "password": {"wrong"}}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec = srv.do(req, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, MessageLoginFailed, flashFrom(t, rec))

	form.Set("password", "secret")

	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec = srv.do(req, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, MessageWelcomeBack, flashFrom(t, rec))

	var session *http.Cookie

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookie {
			session = cookie
		}
	}

	require.NotNil(t, session)
	assert.Equal(t, "token-1", session.Value)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(session)

	rec = srv.do(req, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "one@example.com")
	assert.Contains(t, rec.Body.String(), `action="/upload"`)
}

func TestPagesSignUpShowsConfirmation(t *testing.T) {
	srv := newTestServer(t)

	form := url.Values{"email": {"new@example.com"}, "password": {"123456"}}

	req := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := srv.do(req, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, MessageConfirmEmail, flashFrom(t, rec))

	form.Set("password", "123")

	req = httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec = srv.do(req, "")
	assert.Equal(t, MessageSignUpFailed, flashFrom(t, rec))
}

func TestPagesSearchRendersResults(t *testing.T) {
	srv := newTestServer(t)

	srv.index.matches = []Match{
		{ImageID: "abc", ImageURL: "https://cdn.test/images/user-1/abc", Similarity: 0.42},
	}

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/search?q=dogs", nil), "token-1")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()

	assert.Contains(t, body, "42%")
	assert.Contains(t, body, `/images/abc/delete`)
	assert.Contains(t, body, "resize:fit:300:0")
}

func flashFrom(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name != FlashCookie {
			continue
		}

		message, err := url.QueryUnescape(cookie.Value)
		require.NoError(t, err)

		return message
	}

	return ""
}

func TestLocalImageRoute(t *testing.T) {
	root := t.TempDir()

	storage, err := NewLocalStorage(root, "http://localhost:3000/i/")
	require.NoError(t, err)

	index := newMemoryIndex()

	gallery := NewGallery(storage, index, &staticEmbedder{embedding: []float32{0.1, 0.2}}, testProxy(t), nil, testGalleryOptions())

	t.Cleanup(gallery.Wait)

	auth := &tokenAuth{
		users: map[string]*User{
			"token-1": {ID: "user-1", Email: "one@example.com"},
		},
	}

	router, err := NewServer(auth, gallery, storage, nil, 1<<20).Router()
	require.NoError(t, err)

	srv := &testServer{router: router, gallery: gallery, index: index}

	data := testPNG(t)

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile(UploadField, "photo.png")
	require.NoError(t, err)

	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := srv.do(req, "token-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var uploaded GalleryImage

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.Equal(t, "http://localhost:3000/i/user-1/"+uploaded.Name, uploaded.URL)

	// public urls, no session needed
	rec = srv.do(httptest.NewRequest(http.MethodGet, "/i/user-1/"+uploaded.Name, nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/i/user-1/unknown", nil), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.WriteFile(filepath.Join(root, "user-1", ".picsearch_partial"), []byte("tmp"), 0644))

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/i/user-1/.picsearch_partial", nil), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/i/user-2/"+uploaded.Name, nil), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionRefresh(t *testing.T) {
	gallery, _, _, _ := newTestGallery(t)

	auth := &refreshingAuth{
		tokenAuth: tokenAuth{
			users: map[string]*User{
				"token-2": {ID: "user-1", Email: "one@example.com"},
			},
		},
		refresh: map[string]string{
			"refresh-1": "token-2",
		},
	}

	router, err := NewServer(auth, gallery, nil, nil, 1<<20).Router()
	require.NoError(t, err)

	request := func(cookies ...*http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)

		for _, cookie := range cookies {
			req.AddCookie(cookie)
		}

		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		return rec
	}

	rec := request(
		&http.Cookie{Name: SessionCookie, Value: "expired"},
		&http.Cookie{Name: RefreshCookie, Value: "refresh-1"},
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":{"id":"user-1","email":"one@example.com"}}`, rec.Body.String())

	cookies := map[string]string{}

	for _, cookie := range rec.Result().Cookies() {
		cookies[cookie.Name] = cookie.Value
	}

	assert.Equal(t, "token-2", cookies[SessionCookie])
	assert.Equal(t, "refresh-1-next", cookies[RefreshCookie])

	// an unknown refresh token ends the session
	rec = request(&http.Cookie{Name: RefreshCookie, Value: "revoked"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == RefreshCookie {
			assert.Empty(t, cookie.Value)
			assert.Negative(t, cookie.MaxAge)
		}
	}
}
