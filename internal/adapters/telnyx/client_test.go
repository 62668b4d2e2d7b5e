package telnyx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperline/sales-voice-service/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "key", APIBase: srv.URL, ConnectionID: "conn-1"})
}

func TestPlaceCallReturnsCallControlID(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"call_control_id": "v3:outbound-1"},
		})
	})

	id, err := c.PlaceCall(context.Background(), "+15559992222", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "v3:outbound-1", id)
	assert.Equal(t, "/calls", gotPath)
	assert.Equal(t, "+15559992222", gotBody["to"])
	assert.Equal(t, "conn-1", gotBody["connection_id"])
}

func TestPlaceCallRejectionIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"title": "Invalid number", "detail": "to is not dialable"}},
		})
	})

	_, err := c.PlaceCall(context.Background(), "+0", "+15550001111")
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestSpeakActionPath(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	err := c.Speak(context.Background(), "v3:abc", "hello there", "", "")
	require.NoError(t, err)
	assert.Equal(t, "/calls/v3:abc/actions/speak", gotPath)
}

func TestServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Hangup(context.Background(), "v3:abc")
	require.Error(t, err)
	assert.False(t, domain.IsFatal(err))
}

func TestClientErrorOnActionIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.Hangup(context.Background(), "v3:gone")
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}
