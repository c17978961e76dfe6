package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookflow/internal/auth"
	"bookflow/internal/logging"
	"bookflow/library"
)

const (
	adminEmail = "admin@bookflow.com"
	userEmail  = "user@bookflow.com"
)

// newTestServer serves the API over a freshly seeded snapshot store.
func newTestServer(t *testing.T) *httptest.Server {
	srv, _ := newTestServerWithStore(t)
	return srv
}

func newTestServerWithStore(t *testing.T) (*httptest.Server, *library.SnapshotStore) {
	t.Helper()
	store, err := library.NewSnapshotStore(filepath.Join(t.TempDir(), "library.json"))
	require.NoError(t, err)
	mgr := library.NewLibraryManager(store)
	t.Cleanup(func() { mgr.Close() })

	h := NewHandler(mgr, Options{
		Auth:   auth.Config{JWTSecret: "test-secret", Issuer: "bookflow", AccessTokenTTL: time.Hour},
		Logger: logging.Discard(),
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, store
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(bytes.TrimSpace(data)) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func doList(t *testing.T, srv *httptest.Server, path, token string) []map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// login signs in a sample account.
func login(t *testing.T, srv *httptest.Server, email string) string {
	t.Helper()
	return loginWith(t, srv, email, library.SamplePassword)
}

func loginWith(t *testing.T, srv *httptest.Server, email, password string) string {
	t.Helper()
	status, body := doRequest(t, srv, http.MethodPost, "/api/login", "",
		`{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Bearer", body["tokenType"])
	token, ok := body["accessToken"].(string)
	require.True(t, ok)
	return token
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	status, body := doRequest(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `bookflow_http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)

	status, _ := doRequest(t, srv, http.MethodPost, "/api/login", "", `{"email":"admin@bookflow.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doRequest(t, srv, http.MethodPost, "/api/login", "", `{"email":"admin@bookflow.com"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, srv, http.MethodPost, "/api/login", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, srv, http.MethodGet, "/api/books", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	token := login(t, srv, adminEmail)
	status, me := doRequest(t, srv, http.MethodGet, "/api/me", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Admin User", me["name"])
	assert.Equal(t, "admin", me["role"])
	assert.NotContains(t, me, "passwordHash")
}

func TestRegister(t *testing.T) {
	srv := newTestServer(t)

	status, body := doRequest(t, srv, http.MethodPost, "/api/register", "",
		`{"name":"Jane Roe","email":"jane@example.com","password":"secret"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "user", body["role"])

	status, body = doRequest(t, srv, http.MethodPost, "/api/register", "",
		`{"name":"Jane Again","email":"JANE@example.com","password":"secret"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Email already registered", body["error"])

	status, body = doRequest(t, srv, http.MethodPost, "/api/register", "", `{"name":"","email":"bad","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	details, ok := body["details"].(map[string]any)
	require.True(t, ok, body)
	assert.Contains(t, details, "name")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")
}

func TestBookEndpoints(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, adminEmail)
	user := login(t, srv, userEmail)

	books := doList(t, srv, "/api/books", user)
	assert.Len(t, books, 5)
	borrowed := doList(t, srv, "/api/books?status=Borrowed", user)
	assert.Len(t, borrowed, 2)

	status, _ := doRequest(t, srv, http.MethodGet, "/api/books?status=Lost", user, "")
	assert.Equal(t, http.StatusBadRequest, status)

	newBook := `{"title":"Go in Practice","author":"Matt Butcher","category":"Technology","year":2016}`
	status, _ = doRequest(t, srv, http.MethodPost, "/api/books", user, newBook)
	assert.Equal(t, http.StatusForbidden, status)

	status, created := doRequest(t, srv, http.MethodPost, "/api/books", admin, newBook)
	require.Equal(t, http.StatusCreated, status, created)
	assert.Equal(t, "Available", created["status"])
	id := created["id"].(string)

	status, body := doRequest(t, srv, http.MethodPost, "/api/books", admin, `{"title":"","author":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["details"], "title")

	status, updated := doRequest(t, srv, http.MethodPut, "/api/books/"+id, admin, `{"year":2017,"status":"Borrowed"}`)
	require.Equal(t, http.StatusOK, status, updated)
	assert.EqualValues(t, 2017, updated["year"])
	assert.Equal(t, "Available", updated["status"], "status is not editable")

	status, _ = doRequest(t, srv, http.MethodDelete, "/api/books/2", admin, "")
	assert.Equal(t, http.StatusConflict, status, "borrowed book cannot be deleted")

	status, body = doRequest(t, srv, http.MethodDelete, "/api/books/"+id, admin, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = doRequest(t, srv, http.MethodGet, "/api/books/"+id, user, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLoanLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, adminEmail)
	user := login(t, srv, userEmail)

	status, loan := doRequest(t, srv, http.MethodPost, "/api/loans", user,
		`{"bookId":"1","loanDate":"2023-11-01","returnDate":"2023-11-15"}`)
	require.Equal(t, http.StatusCreated, status, loan)
	assert.Equal(t, "Active", loan["status"])
	assert.Equal(t, "2", loan["userId"])
	loanID := loan["id"].(string)

	status, body := doRequest(t, srv, http.MethodPost, "/api/loans", admin,
		`{"bookId":"1","userId":"1","loanDate":"2023-11-02"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Book is already borrowed", body["error"])

	status, _ = doRequest(t, srv, http.MethodPost, "/api/loans", user,
		`{"bookId":"3","loanDate":"2023-11-01","returnDate":"2023-11-01"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, srv, http.MethodPost, "/api/loans", user, `{"bookId":"3","userId":"1"}`)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doRequest(t, srv, http.MethodPost, "/api/loans", user, `{"bookId":"99"}`)
	assert.Equal(t, http.StatusNotFound, status)

	mine := doList(t, srv, "/api/loans?status=Active", user)
	assert.Len(t, mine, 3)
	assert.Equal(t, "Clean Code", mine[0]["bookTitle"])
	assert.Equal(t, "John Doe", mine[0]["userName"])

	ranged := doList(t, srv, "/api/loans?from=2023-10-02&to=2023-10-31", admin)
	assert.Len(t, ranged, 1)

	status, _ = doRequest(t, srv, http.MethodGet, "/api/loans?from=yesterday", admin, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, srv, http.MethodPut, "/api/loans/"+loanID+"/return", user, `{"returnDate":"2023-11-10"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])

	status, got := doRequest(t, srv, http.MethodGet, "/api/loans/"+loanID, user, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Returned", got["status"])
	assert.Equal(t, "2023-11-10", got["returnDate"])

	status, body = doRequest(t, srv, http.MethodPut, "/api/loans/"+loanID+"/return", admin, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Loan already returned", body["error"])

	status, _ = doRequest(t, srv, http.MethodPut, "/api/loans/missing/return", admin, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, stats := doRequest(t, srv, http.MethodGet, "/api/stats", user, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 5, stats["totalBooks"])
	assert.EqualValues(t, 2, stats["borrowedBooks"])
	assert.EqualValues(t, 2, stats["activeLoans"])
	assert.EqualValues(t, 1, stats["completedLoans"])
}

func TestReturnOtherUsersLoan(t *testing.T) {
	srv := newTestServer(t)
	user := login(t, srv, userEmail)

	status, _ := doRequest(t, srv, http.MethodPost, "/api/register", "",
		`{"name":"Mallory","email":"mallory@example.com","password":"secret"}`)
	require.Equal(t, http.StatusCreated, status)
	mallory := loginWith(t, srv, "mallory@example.com", "secret")

	status, _ = doRequest(t, srv, http.MethodPut, "/api/loans/1/return", mallory, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Empty(t, doList(t, srv, "/api/loans", mallory))

	status, _ = doRequest(t, srv, http.MethodGet, "/api/users", user, "")
	assert.Equal(t, http.StatusForbidden, status)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/books", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{library.ErrBookBorrowed, http.StatusBadRequest},
		{library.ErrBookOnLoan, http.StatusConflict},
		{library.ErrLoanReturned, http.StatusConflict},
		{library.ErrDuplicateEmail, http.StatusConflict},
		{library.ErrNotFound, http.StatusNotFound},
		{&library.ValidationError{}, http.StatusBadRequest},
		{library.ErrUnauthorized, http.StatusUnauthorized},
		{library.ErrForbidden, http.StatusForbidden},
		{library.ErrUnavailable, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
	assert.Equal(t, "Internal Server Error", messageFor(io.ErrUnexpectedEOF, http.StatusInternalServerError))
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/books":                "/api/books",
		"/api/books/42":             "/api/books/{id}",
		"/api/loans/abc-def/return": "/api/loans/{id}/return",
		"/api/stats":                "/api/stats",
		"/health":                   "/health",
		"/api/logout":               "/api/logout",
		"/x/7f3c":                   "other",
		"/api/books/42/cover":       "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestLogout(t *testing.T) {
	srv, store := newTestServerWithStore(t)
	ctx := context.Background()

	status, _ := doRequest(t, srv, http.MethodPost, "/api/logout", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	admin := login(t, srv, adminEmail)
	user := login(t, srv, userEmail)
	cur, err := store.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "John Doe", cur.Name)

	// Someone else's logout leaves the recorded session alone.
	status, body := doRequest(t, srv, http.MethodPost, "/api/logout", admin, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	cur, err = store.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)

	status, _ = doRequest(t, srv, http.MethodPost, "/api/logout", user, "")
	require.Equal(t, http.StatusOK, status)
	cur, err = store.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestUnknownRoutesShareMetricLabel(t *testing.T) {
	srv := newTestServer(t)
	for _, p := range []string{"/x/1", "/x/2", "/nope"} {
		resp, err := srv.Client().Get(srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
	}

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `path="other"`)
	assert.NotContains(t, string(data), `path="/x/1"`)
}
