package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezelink/freezelink/internal/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(
		config.CloudConfig{BaseURL: baseURL, RequestTimeout: 5 * time.Second},
		config.AccountConfig{Email: "user@example.com", Password: "hunter2"},
	)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	now := time.Now().Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/v1", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["username"])
		assert.Equal(t, "hunter2", body["password"])
		assert.Equal(t, true, body["rememberme"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":   "access-1",
			"accessExpire":  now + 3600,
			"refreshAfter":  now + 1800,
			"refreshToken":  "refresh-1",
			"refreshExpire": now + 86400,
			"customerId":    77,
			"userId":        42,
			"roles":         []string{"owner"},
		})
	}))
	defer srv.Close()

	sess, err := newTestClient(srv.URL).Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", sess.Email)
	assert.Equal(t, "access-1", sess.AccessToken)
	assert.Equal(t, "refresh-1", sess.RefreshToken)
	assert.Equal(t, int64(77), sess.CustomerID)
	assert.Equal(t, int64(42), sess.UserID)
	assert.Equal(t, []string{"owner"}, sess.Roles)
	assert.Equal(t, time.Unix(now+1800, 0), sess.RefreshAfter)
}

func TestLoginInvalidCredentials(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginBodyError(t *testing.T) {
	t.Parallel()

	// some rejections come back 200 with an error field in the body
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "bad password"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "bad password")
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/refresh-token", r.URL.Path)
		// the refresh token travels as a bearer credential
		assert.Equal(t, "Bearer refresh-1", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "access-2",
			"refreshToken": "refresh-2",
			"customerId":   77,
		})
	}))
	defer srv.Close()

	sess, err := newTestClient(srv.URL).Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", sess.AccessToken)
	assert.Equal(t, "refresh-2", sess.RefreshToken)
}

func TestRefreshExpired(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := newTestClient(srv.URL).Refresh(context.Background(), "stale")
		assert.ErrorIs(t, err, ErrSessionExpired, "status %d", status)
		srv.Close()
	}
}

func TestListDryers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/freeze-dryer/v1", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"id":          5,
				"customer_id": 77,
				"serial":      "HR4060-1234",
				"cpuSerial":   "cpu-abc",
				"firmware":    "5.1.4",
				"model":       "LARGE",
				"dryer_name":  "Garage",
				"shelves":     5,
			},
			{
				"id":          9,
				"customer_id": 12,
				"dryer_name":  "Shared",
			},
		})
	}))
	defer srv.Close()

	devices, err := newTestClient(srv.URL).ListDryers(context.Background(), "access-1")
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, int64(5), devices[0].ID)
	assert.Equal(t, int64(77), devices[0].CustomerID)
	assert.Equal(t, "HR4060-1234", devices[0].Serial)
	assert.Equal(t, "Garage", devices[0].Name)
	assert.Equal(t, 5, devices[0].Shelves)
	assert.False(t, devices[0].ListedAt.IsZero())

	assert.Equal(t, int64(9), devices[1].ID)
	assert.Equal(t, int64(12), devices[1].CustomerID)
}

func TestListDryersUnauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListDryers(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrSessionExpired)
}
