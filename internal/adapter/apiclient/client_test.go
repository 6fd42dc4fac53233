package apiclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jgivc/modmirror/internal/common"
	"github.com/jgivc/modmirror/internal/config"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.APIConfig{URL: srv.URL, Key: "secret", TimeoutSeconds: 5}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	return New(cfg, log)
}

func TestGetModDecodesAndSendsAPIKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mods/42", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		require.Empty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "name": "Test Mod", "date_updated": 1000}`))
	})

	mod, err := c.GetMod(context.Background(), 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, mod.ID)
	require.Equal(t, "Test Mod", mod.Name)
}

func TestGetModEventsSendsWindowParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mods/events", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "100", q.Get("date_added-min"))
		require.Equal(t, "200", q.Get("date_added-max"))
		require.Equal(t, "true", q.Get("latest"))
		require.Equal(t, "date_added", q.Get("_sort"))

		_, _ = w.Write([]byte(`{"data": [{"id": 1, "mod_id": 7, "event_type": 0, "date_added": 150}]}`))
	})

	events, err := c.GetModEvents(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.EqualValues(t, 7, events[0].ModID)
}

func TestAuthenticateSendsBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me", r.URL.Path)
		require.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"id": 9, "username": "player"}`))
	})

	user, err := c.Authenticate(context.Background(), "user-token")
	require.NoError(t, err)
	require.Equal(t, "player", user.Username)
}

func TestGetUserSubscriptionsCollectsIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"id": 2}, {"id": 5}]}`))
	})

	ids, err := c.GetUserSubscriptions(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, []int64{2, 5}, ids)
}

func TestSubscribeUsesPost(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/mods/7/subscribe", r.URL.Path)

		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, c.Subscribe(context.Background(), "token", 7))
}

func TestUnsubscribeUsesDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/mods/7/subscribe", r.URL.Path)

		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Unsubscribe(context.Background(), "token", 7))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, common.ErrAuthRejected},
		{"forbidden", http.StatusForbidden, common.ErrAuthRejected},
		{"not found", http.StatusNotFound, common.ErrNotFound},
		{"server error", http.StatusInternalServerError, common.ErrNetworkUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := c.GetMod(context.Background(), 1)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetMod(context.Background(), 1)

	var rateLimited *common.RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	require.Equal(t, 120*time.Second, rateLimited.RetryAfter)
}

func TestRateLimitedDefaultsRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetMod(context.Background(), 1)

	var rateLimited *common.RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	require.Equal(t, defaultRetryAfter, rateLimited.RetryAfter)
}

func TestValidationErrorCarriesFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": {"message": "bad input", "errors": {"name": "too long"}}}`))
	})

	_, err := c.GetMod(context.Background(), 1)

	var validation *common.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "too long", validation.Fields["name"])
}
