package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/api/handler"
	"github.com/mcpgrid/connectd/internal/connections"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPinManager struct {
	setErr    error
	verify    *connections.VerifyResult
	verifyErr error
}

func (m *mockPinManager) SetPin(_ context.Context, _ uuid.UUID, _ string) error {
	return m.setErr
}
func (m *mockPinManager) Verify(_ context.Context, _ uuid.UUID, _ string) (*connections.VerifyResult, error) {
	return m.verify, m.verifyErr
}

func TestSetPin_Success(t *testing.T) {
	h := handler.NewSetPinHandler(&mockPinManager{})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin", `{"pin":"4821"}`, ""))

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSetPin_TooShort(t *testing.T) {
	h := handler.NewSetPinHandler(&mockPinManager{})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin", `{"pin":"12"}`, ""))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, w))
}

func TestSetPin_AlreadySet(t *testing.T) {
	h := handler.NewSetPinHandler(&mockPinManager{setErr: connections.ErrPinAlreadySet})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin", `{"pin":"4821"}`, ""))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PIN_ALREADY_SET", errCode(t, w))
}

func TestVerifyPin_Valid(t *testing.T) {
	h := handler.NewVerifyPinHandler(&mockPinManager{
		verify: &connections.VerifyResult{Valid: true, RemainingAttempts: 5},
	})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin/verify", `{"pin":"4821"}`, ""))

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(5), data["remaining_attempts"])
}

func TestVerifyPin_WrongPinIsStillOK(t *testing.T) {
	h := handler.NewVerifyPinHandler(&mockPinManager{
		verify: &connections.VerifyResult{Valid: false, RemainingAttempts: 3},
	})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin/verify", `{"pin":"0000"}`, ""))

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["valid"])
	assert.Equal(t, float64(3), data["remaining_attempts"])
}

func TestVerifyPin_Locked(t *testing.T) {
	h := handler.NewVerifyPinHandler(&mockPinManager{
		verify: &connections.VerifyResult{Valid: false, RemainingAttempts: 0, Locked: true},
	})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin/verify", `{"pin":"4821"}`, ""))

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "PIN_LOCKED", errCode(t, w))
}

func TestVerifyPin_NotSet(t *testing.T) {
	h := handler.NewVerifyPinHandler(&mockPinManager{verifyErr: connections.ErrPinNotSet})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin/verify", `{"pin":"4821"}`, ""))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PIN_NOT_SET", errCode(t, w))
}

func TestVerifyPin_MissingPin(t *testing.T) {
	h := handler.NewVerifyPinHandler(&mockPinManager{})

	w := httptest.NewRecorder()
	h(w, authedRequest("POST", "/api/v1/pin/verify", `{}`, ""))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
