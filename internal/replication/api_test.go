package replication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/dapsync/internal/testutil"
)

func newDAPServer(t *testing.T, tablesHandler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc("/ids/auth/login", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&logins, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/dap/query/canvas/table", tablesHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &logins
}

func TestAPIClient_ListTables(t *testing.T) {
	srv, logins := newDAPServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"tables": []string{"accounts", "courses"}})
	})

	client := NewAPIClient(srv.URL, Credentials{ClientID: "client", ClientSecret: "secret"}, nil, testutil.NewTestLogger().Logger())

	tables, err := client.ListTables(context.Background(), "canvas")
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "courses"}, tables)

	// second call reuses the cached token
	_, err = client.ListTables(context.Background(), "canvas")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(logins))
}

func TestAPIClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv, _ := newDAPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tables": []string{"accounts"}})
	})

	client := NewAPIClient(srv.URL, Credentials{ClientID: "client", ClientSecret: "secret"}, nil, testutil.NewTestLogger().Logger())
	client.baseDelay = time.Millisecond

	tables, err := client.ListTables(context.Background(), "canvas")
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts"}, tables)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAPIClient_ClientErrorIsTyped(t *testing.T) {
	srv, _ := newDAPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "namespace not allowed"})
	})

	client := NewAPIClient(srv.URL, Credentials{ClientID: "client", ClientSecret: "secret"}, nil, testutil.NewTestLogger().Logger())

	_, err := client.ListTables(context.Background(), "canvas")
	require.Error(t, err)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "namespace not allowed", httpErr.Message)
}

func TestAPIClient_BadCredentials(t *testing.T) {
	srv, _ := newDAPServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("tables endpoint must not be reached without a token")
	})

	client := NewAPIClient(srv.URL, Credentials{ClientID: "client", ClientSecret: "wrong"}, nil, testutil.NewTestLogger().Logger())

	_, err := client.ListTables(context.Background(), "canvas")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}
