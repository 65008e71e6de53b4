package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/drop"
	"github.com/MJE43/plinko-engine/internal/engine"
	"github.com/MJE43/plinko-engine/internal/games"
	"github.com/MJE43/plinko-engine/internal/logging"
	"github.com/MJE43/plinko-engine/internal/physics"
	"github.com/MJE43/plinko-engine/internal/scan"
	"github.com/MJE43/plinko-engine/internal/store"
)

type testEnv struct {
	handler http.Handler
	server  *Server
	db      *store.SQLiteDB
	drops   *drop.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := board.NewRegistry(board.DefaultConfig(), 4)
	require.NoError(t, err)
	b, err := reg.Default()
	require.NoError(t, err)

	seeds := engine.Seeds{Server: "api_server", Client: "api_client"}
	selector, err := games.NewOutcomeSelector(b, engine.NewSeededSource(seeds, 1))
	require.NoError(t, err)
	sim, err := physics.NewSimulator(b, engine.NewSeededSource(seeds, 2), physics.WithLogger(logging.Discard()))
	require.NoError(t, err)
	svc, err := drop.NewService(selector, sim, drop.WithLogger(logging.Discard()), drop.WithMaxBet(1000))
	require.NoError(t, err)
	settler := drop.NewSettler(svc, db, db, logging.Discard())

	runCtx, cancel := context.WithCancel(ctx)
	go svc.Run(runCtx, time.Millisecond)
	t.Cleanup(func() {
		svc.Stop()
		cancel()
	})

	srv := NewServer(Deps{
		DB:              db,
		Boards:          reg,
		Scanner:         scan.NewScanner(reg, scan.WithLogger(logging.Discard()), scan.WithVersion("test")),
		Drops:           svc,
		Settler:         settler,
		StartingBalance: 5000,
		RequestTimeout:  10 * time.Second,
	}, logging.Discard())

	return &testEnv{handler: srv.Routes(), server: srv, db: db, drops: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dst), w.Body.String())
}

func (e *testEnv) createUser(t *testing.T, name string, balance int64) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/users", map[string]interface{}{"name": name, "balance": balance})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		User store.User `json:"user"`
	}
	decodeBody(t, w, &resp)
	return resp.User.ID
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, errType string) EngineError {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	var e EngineError
	decodeBody(t, w, &e)
	assert.Equal(t, errType, e.Type)
	assert.Equal(t, errType, w.Header().Get("X-Error-Type"))
	assert.NotEmpty(t, e.RequestID)
	return e
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthCheckResponse
	decodeBody(t, w, &health)
	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.Len(t, health.Checks, 4)
	assert.Equal(t, EngineVersion, w.Header().Get("X-Engine-Version"))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", nil).Code)

	env.drops.Stop()
	w = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Drop service stopped")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", nil).Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/drops", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/version", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsAndVersion(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health/live", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plinko_http_requests_total")

	w = env.do(t, http.MethodGet, "/api/v1/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v VersionInfo
	decodeBody(t, w, &v)
	assert.Equal(t, EngineVersion, v.EngineVersion)
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/users", map[string]string{"name": "alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created UserResponse
	decodeBody(t, w, &created)
	assert.Equal(t, int64(5000), created.User.Balance, "starting balance applies")

	w = env.do(t, http.MethodGet, "/api/v1/users/"+created.User.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got UserResponse
	decodeBody(t, w, &got)
	assert.Equal(t, "alice", got.User.Name)
	require.NotNil(t, got.Stats)
	assert.Zero(t, got.Stats.Played)

	e := assertError(t, env.do(t, http.MethodPost, "/api/v1/users", map[string]string{"name": ""}), http.StatusBadRequest, ErrTypeValidation)
	assert.Contains(t, e.Context["fields"], "name")

	assertError(t, env.do(t, http.MethodPost, "/api/v1/users", map[string]interface{}{"name": "bob", "balance": -1}), http.StatusBadRequest, ErrTypeValidation)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/users", `{"name":"bob","admin":true}`), http.StatusBadRequest, ErrTypeInvalidParams)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/users", `{`), http.StatusBadRequest, ErrTypeInvalidParams)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/users/"+uuid.NewString(), nil), http.StatusNotFound, ErrTypeNotFound)
}

type dropBody struct {
	Drop struct {
		DropID     string  `json:"drop_id"`
		Bet        int64   `json:"bet"`
		Rows       int     `json:"rows"`
		Sink       int     `json:"sink"`
		Multiplier float64 `json:"multiplier"`
		Payout     int64   `json:"payout"`
		WalkBucket int     `json:"walk_bucket"`
	} `json:"drop"`
	Balance int64 `json:"balance"`
}

func TestDropSettlesAndRecords(t *testing.T) {
	env := newTestEnv(t)
	userID := env.createUser(t, "carol", 1000)

	w := env.do(t, http.MethodPost, "/api/v1/drops", DropRequest{UserID: userID, Bet: 100})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp dropBody
	decodeBody(t, w, &resp)

	d := resp.Drop
	assert.NotEmpty(t, d.DropID)
	assert.Equal(t, int64(100), d.Bet)
	assert.Equal(t, 16, d.Rows)
	require.GreaterOrEqual(t, d.Sink, 0)
	require.LessOrEqual(t, d.Sink, 16)
	assert.Equal(t, drop.Payout(100, d.Multiplier), d.Payout)
	assert.Equal(t, int64(1000-100)+d.Payout, resp.Balance)

	w = env.do(t, http.MethodGet, "/api/v1/drops/"+d.DropID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored store.Drop
	decodeBody(t, w, &stored)
	assert.Equal(t, store.DropLanded, stored.Status)
	assert.Equal(t, d.Sink, stored.Sink)
	assert.Equal(t, d.WalkBucket, stored.WalkBucket)
	assert.Equal(t, userID, stored.UserID)

	w = env.do(t, http.MethodGet, "/api/v1/users/"+userID+"/drops?page=1&per_page=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list store.DropsList
	decodeBody(t, w, &list)
	assert.Equal(t, 1, list.TotalCount)

	w = env.do(t, http.MethodGet, "/api/v1/users/"+userID, nil)
	var user UserResponse
	decodeBody(t, w, &user)
	assert.Equal(t, int64(1), user.Stats.Played)
	assert.Equal(t, int64(100), user.Stats.TotalWagered)

	assertError(t, env.do(t, http.MethodGet, "/api/v1/drops/"+uuid.NewString(), nil), http.StatusNotFound, ErrTypeNotFound)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/users/"+userID+"/drops?page=x", nil), http.StatusBadRequest, ErrTypeInvalidParams)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/users/"+uuid.NewString()+"/drops", nil), http.StatusNotFound, ErrTypeNotFound)
}

func TestDropRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "dave", 50)

	assertError(t, env.do(t, http.MethodPost, "/api/v1/drops", DropRequest{UserID: userID, Bet: 51}), http.StatusPaymentRequired, ErrTypeInsufficientBalance)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/drops", DropRequest{UserID: userID, Bet: 0}), http.StatusBadRequest, ErrTypeValidation)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/drops", DropRequest{UserID: "nobody", Bet: 1}), http.StatusBadRequest, ErrTypeValidation)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/drops", DropRequest{UserID: uuid.NewString(), Bet: 1}), http.StatusNotFound, ErrTypeNotFound)

	rich := env.createUser(t, "erin", 5000)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/drops", DropRequest{UserID: rich, Bet: 1001}), http.StatusBadRequest, ErrTypeInvalidBet)

	for id, want := range map[string]int64{userID: 50, rich: 5000} {
		u, err := env.db.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, u.Balance, "rejected drops never move money")
	}
}

func TestDropAfterStopIsRefunded(t *testing.T) {
	env := newTestEnv(t)
	userID := env.createUser(t, "frank", 300)
	env.drops.Stop()

	assertError(t, env.do(t, http.MethodPost, "/api/v1/drops", DropRequest{UserID: userID, Bet: 100}), http.StatusServiceUnavailable, ErrTypeServiceUnavailable)

	u, err := env.db.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), u.Balance)
}

func TestBoardEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/board", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var layout board.Layout
	decodeBody(t, w, &layout)
	assert.Equal(t, 16, layout.Config.Rows)
	assert.Len(t, layout.Sinks, 17)
	assert.NotEmpty(t, layout.Obstacles)

	w = env.do(t, http.MethodGet, "/api/v1/board?rows=8&risk=LOW", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &layout)
	assert.Equal(t, 8, layout.Config.Rows)
	assert.Equal(t, "low", layout.Config.Risk)
	assert.Len(t, layout.Sinks, 9)

	for _, q := range []string{"rows=7", "rows=abc", "risk=extreme"} {
		assertError(t, env.do(t, http.MethodGet, "/api/v1/board?"+q, nil), http.StatusBadRequest, ErrTypeInvalidParams)
	}

	e := assertError(t, env.do(t, http.MethodGet, "/api/v1/board?rows=10&risk=low", nil), http.StatusBadRequest, ErrTypeInvalidParams)
	assert.Contains(t, e.Message, "have [8 12 16]")
}

func TestScanEndpoints(t *testing.T) {
	env := newTestEnv(t)
	seeds := map[string]string{"server": "scan_server", "client": "scan_client"}

	w := env.do(t, http.MethodPost, "/api/v1/scans", map[string]interface{}{
		"seeds":       seeds,
		"nonce_start": 1,
		"nonce_end":   1000,
		"target_op":   "ge",
		"target_val":  2,
		"limit":       3,
		"save":        true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ScanResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, uint64(1000), resp.Summary.TotalEvaluated)
	assert.Equal(t, "walk", resp.Echo.Mode)
	assert.Equal(t, 16, resp.Echo.Rows)
	assert.LessOrEqual(t, len(resp.Hits), 3)
	require.NotEmpty(t, resp.RunID)

	w = env.do(t, http.MethodGet, "/api/v1/scans/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run store.ScanRun
	decodeBody(t, w, &run)
	assert.Equal(t, resp.Summary.Histogram, run.Histogram)
	assert.Equal(t, store.HashServerSeed("scan_server"), run.ServerSeedHash)

	w = env.do(t, http.MethodGet, "/api/v1/scans?mode=walk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs store.RunsList
	decodeBody(t, w, &runs)
	assert.Equal(t, 1, runs.TotalCount)

	w = env.do(t, http.MethodPost, "/api/v1/scans", map[string]interface{}{
		"mode": "physics", "rows": 8, "risk": "low", "seeds": seeds, "nonce_start": 1, "nonce_end": 20,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var physicsResp ScanResponse
	decodeBody(t, w, &physicsResp)
	assert.Empty(t, physicsResp.RunID, "unsaved scans have no id")
	assert.Len(t, physicsResp.Summary.Histogram, 9)
	assert.NotNil(t, physicsResp.Hits)

	assertError(t, env.do(t, http.MethodPost, "/api/v1/scans", map[string]interface{}{"nonce_end": 10}), http.StatusBadRequest, ErrTypeValidation)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/scans", map[string]interface{}{"mode": "replay", "seeds": seeds, "nonce_end": 10}), http.StatusBadRequest, ErrTypeValidation)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/scans", map[string]interface{}{"seeds": seeds, "nonce_start": 10, "nonce_end": 1}), http.StatusBadRequest, ErrTypeInvalidParams)
	assertError(t, env.do(t, http.MethodPost, "/api/v1/scans", map[string]interface{}{"seeds": seeds, "nonce_end": 10, "target_op": "near"}), http.StatusBadRequest, ErrTypeInvalidParams)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/scans/"+uuid.NewString(), nil), http.StatusNotFound, ErrTypeNotFound)
}

func TestSnapshotEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Pending  int               `json:"pending"`
		Stopped  bool              `json:"stopped"`
		Snapshot physics.Snapshot `json:"snapshot"`
	}
	decodeBody(t, w, &body)
	assert.False(t, body.Stopped)
	assert.Len(t, body.Snapshot.Sinks, 17)
}

func TestRecoveryHandler(t *testing.T) {
	eh := NewErrorHandler(logging.Discard())
	h := eh.RecoveryHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var e EngineError
	decodeBody(t, w, &e)
	assert.Equal(t, ErrTypeInternal, e.Type)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		errType string
	}{
		{fmt.Errorf("wrap: %w", store.ErrInsufficientBalance), http.StatusPaymentRequired, ErrTypeInsufficientBalance},
		{store.ErrUserNotFound, http.StatusNotFound, ErrTypeNotFound},
		{store.ErrUserExists, http.StatusConflict, ErrTypeConflict},
		{drop.ErrInvalidBet, http.StatusBadRequest, ErrTypeInvalidBet},
		{drop.ErrStopped, http.StatusServiceUnavailable, ErrTypeServiceUnavailable},
		{fmt.Errorf("%w: %w", drop.ErrDropFailed, drop.ErrStopped), http.StatusServiceUnavailable, ErrTypeServiceUnavailable},
		{fmt.Errorf("%w: ball faulted", drop.ErrDropFailed), http.StatusInternalServerError, ErrTypeDropFailed},
		{&board.ConfigurationError{Field: "rows", Reason: "bad"}, http.StatusBadRequest, ErrTypeInvalidParams},
		{scan.ErrRangeTooWide, http.StatusBadRequest, ErrTypeInvalidParams},
		{context.DeadlineExceeded, http.StatusRequestTimeout, ErrTypeTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrTypeInternal},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.err.Error(), " ", "_"), func(t *testing.T) {
			status, errType := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.errType, errType)
		})
	}
}

func TestHashSeed(t *testing.T) {
	assert.Equal(t, "empty", hashSeed(""))
	h := hashSeed("secret")
	assert.Len(t, h, 16)
	assert.NotContains(t, h, "secret")
}
