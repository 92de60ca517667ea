package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/coordinator"
	"github.com/jasoncavinder/helm/internal/core"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/repository"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "rest-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	coord := coordinator.New(store, nil, 4)
	rt := adapterrt.New(map[string]adapter.Manager{"npm": {ID: "npm"}})
	return NewHandler(core.New(store, coord, rt, nil))
}

func newTestRouter(t *testing.T) *Handler {
	return newTestHandler(t)
}

func serve(h *Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	SetupRoutes(router, h)
	var r *http.Request
	if body != nil {
		buf, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func TestHealth_Returns200(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListInstalledPackages_EmptyReturnsArray(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodGet, "/packages/installed", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var out []models.InstalledPackage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Empty(t, out)
}

func TestGetSetSafeMode_RoundTrips(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodGet, "/settings/safe-mode", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.False(t, got["safe_mode"])

	rec = serve(h, http.MethodPut, "/settings/safe-mode", map[string]bool{"safe_mode": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/settings/safe-mode", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got["safe_mode"])
}

func TestUpgradePackage_UnknownManagerReturns400(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodPost, "/packages/upgrade", packageRequest{ManagerID: "not-a-manager", PackageName: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRemoteSearchForManager_ReturnsAcceptedWithTaskID(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodPost, "/search/remote", remoteSearchRequest{ManagerID: "npm", Query: "lodash"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var out map[string]uint64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.NotZero(t, out["task_id"])
}

func TestCancelTask_UnknownIDReturnsFalse(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodPost, "/tasks/99999/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.False(t, out["cancelled"])
}

func TestResetDatabase_ReturnsOK(t *testing.T) {
	h := newTestRouter(t)
	rec := serve(h, http.MethodPost, "/database/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
