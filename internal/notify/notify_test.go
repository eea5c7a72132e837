package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/dapsync/internal/testutil"
)

func TestSlack_Post(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := testutil.NewTestLogger()
	slack := NewSlack(server.URL, server.Client(), logger.Logger())

	require.NoError(t, slack.Post(context.Background(), "*cd2 (Development)*\nall good"))
	assert.Equal(t, map[string]string{"text": "*cd2 (Development)*\nall good"}, got)
	assert.False(t, logger.HasError())
}

func TestSlack_PostFailureLoggedNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	logger := testutil.NewTestLogger()
	slack := NewSlack(server.URL, server.Client(), logger.Logger())

	err := slack.Post(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "invalid_payload")
	assert.Equal(t, 1, calls)
	assert.True(t, logger.HasMessage("ERROR", "failed to send message to slack"))
}

func TestSlack_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	logger := testutil.NewTestLogger()
	err := NewSlack(url, nil, logger.Logger()).Post(context.Background(), "hello")

	assert.Error(t, err)
	assert.True(t, logger.HasError())
}

func TestDiscard(t *testing.T) {
	var n Notifier = Discard{}
	assert.NoError(t, n.Post(context.Background(), "anything"))
}
