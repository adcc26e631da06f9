package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/raftsession/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsHandlerEmpty(t *testing.T) {
	node := newTestNode(t)
	hs := NewHealthServer(node)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	hs.sessionsHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []*storage.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Empty(t, body.Sessions)
}

func TestSessionHandlerNotFound(t *testing.T) {
	node := newTestNode(t)
	hs := NewHealthServer(node)

	req := httptest.NewRequest(http.MethodGet, "/sessions/42", nil)
	w := httptest.NewRecorder()
	hs.sessionHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandlerInvalidID(t *testing.T) {
	node := newTestNode(t)
	hs := NewHealthServer(node)

	req := httptest.NewRequest(http.MethodGet, "/sessions/not-a-number", nil)
	w := httptest.NewRecorder()
	hs.sessionHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionsHandlerNoNode(t *testing.T) {
	hs := NewHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	hs.sessionsHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
