package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dukex/regcycle/pkg/client"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = models.Scope{TenantID: "tenant-a", UserID: "alice", SessionID: "session-alice"}

func TestClient_UpdateStep(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/cycles/c-1/steps/define-scope", r.URL.Path)
		assert.Equal(t, "tenant-a", r.Header.Get(models.HeaderTenantID))
		assert.Equal(t, "alice", r.Header.Get(models.HeaderUserID))
		assert.Equal(t, "session-alice", r.Header.Get(models.HeaderSessionID))

		var body struct {
			Data            map[string]any `json:"data"`
			ExpectedVersion int64          `json:"expected_version"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")

		if body.ExpectedVersion < 4 {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"success":false,"conflict":{"id":"k-1","local_version":3,"remote_version":4,`+
				`"fields":[{"field":"entities","local_value":["bank-a"],"remote_value":["bank-b"]}]}}`)

			return
		}

		_, _ = io.WriteString(w, `{"success":true,"new_version":5,"step":{"id":"define-scope","version":5}}`)
	}))
	defer server.Close()

	c := client.New(server.URL, alice, slog.Default())

	update, err := c.UpdateStep(context.Background(), "c-1", "define-scope", map[string]any{"entities": []any{"bank-a"}}, 4)
	require.NoError(t, err)
	assert.True(t, update.Success)
	assert.Equal(t, int64(5), update.NewVersion)

	update, err = c.UpdateStep(context.Background(), "c-1", "define-scope", map[string]any{"entities": []any{"bank-a"}}, 3)
	require.NoError(t, err)
	assert.False(t, update.Success)
	require.NotNil(t, update.Conflict)
	assert.Equal(t, []string{"entities"}, update.Conflict.FieldNames())
}

func TestClient_UpdateStep_Problem(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"type":"phase_not_active","status":409,"detail":"phase is not active"}`)
	}))
	defer server.Close()

	c := client.New(server.URL, alice, slog.Default())

	_, err := c.UpdateStep(context.Background(), "c-1", "define-scope", nil, 1)

	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)
	assert.Equal(t, "phase_not_active", statusErr.Type)
	assert.Equal(t, "request failed with status 409: phase is not active", statusErr.Error())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := client.New(server.URL, alice, slog.Default(), client.WithRetry(client.RetryConfig{Attempts: 3}))

	require.NoError(t, c.Heartbeat(context.Background(), "c-1"))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)

	stingy := client.New(server.URL, alice, slog.Default(), client.WithRetry(client.RetryConfig{Attempts: 2}))

	err := stingy.Heartbeat(context.Background(), "c-1")
	require.ErrorIs(t, err, client.ErrUnavailable)
	assert.ErrorIs(t, err, client.ErrServerError)
}

func TestClient_SendQueuedAction(t *testing.T) {
	t.Parallel()

	var received []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := client.New(server.URL, alice, slog.Default())

	action, err := c.StepUpdateAction("c-1", "identify-owners", map[string]any{"owners": []any{"carol"}}, 2)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/cycles/c-1/steps/identify-owners", action.URL)

	status, err := c.Send(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"data":{"owners":["carol"]},"expected_version":2}`, string(received))

	server.Close()

	_, err = c.Send(context.Background(), action)
	require.ErrorIs(t, err, client.ErrUnavailable)
}
