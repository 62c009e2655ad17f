package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashwager/internal/game"
	"crashwager/internal/wallet"
)

func newTestServer(t *testing.T) (*FiberServer, *game.Manager, *wallet.MemoryWallet) {
	t.Helper()
	w := wallet.NewMemoryWallet()
	m, err := game.NewManager(game.DefaultConfig(), w, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	s := New(Deps{Manager: m, Wallet: w, Logger: zerolog.Nop()})
	return s, m, w
}

func doJSON(t *testing.T, s *FiberServer, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}
	var result map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("could not unmarshal response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, result
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, result := doJSON(t, s, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("expected status OK; got %v", status)
	}
	gameHealth, ok := result["game"].(map[string]any)
	if !ok {
		t.Fatalf("expected game section in health response; got %v", result)
	}
	if gameHealth["status"] != string(game.PhaseWaiting) {
		t.Errorf("expected status WAITING; got %v", gameHealth["status"])
	}
	if _, ok := result["database"]; ok {
		t.Error("database section present without a database")
	}
}

func TestGameStateHandler(t *testing.T) {
	s, m, _ := newTestServer(t)

	status, _ := doJSON(t, s, http.MethodGet, "/api/v1/game/state", "")
	assert.Equal(t, http.StatusNotFound, status)

	m.Advance(0)
	status, result := doJSON(t, s, http.MethodGet, "/api/v1/game/state", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(game.PhaseBetting), result["status"])
	assert.NotEmpty(t, result["round_id"])
	assert.NotContains(t, result, "crash_point")
}

func TestBetAndCashoutHandlers(t *testing.T) {
	s, m, _ := newTestServer(t)
	m.Advance(0)

	status, result := doJSON(t, s, http.MethodPost, "/api/v1/user/alice/balance", `{"balance": 1000}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1000, result["balance"])

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", `{`, http.StatusBadRequest},
		{"missing user", `{"amount": 10}`, http.StatusBadRequest},
		{"invalid stake", `{"user_id": "alice", "amount": 0}`, http.StatusBadRequest},
		{"insufficient funds", `{"user_id": "bob", "amount": 10}`, http.StatusPaymentRequired},
		{"placed", `{"user_id": "alice", "amount": 400, "auto_cashout": 2.5}`, http.StatusCreated},
		{"duplicate", `{"user_id": "alice", "amount": 400}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, result := doJSON(t, s, http.MethodPost, "/api/v1/game/bet", tt.body)
			assert.Equal(t, tt.status, status, "response: %v", result)
		})
	}

	status, result = doJSON(t, s, http.MethodGet, "/api/v1/user/alice/balance", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 600, result["balance"])

	status, result = doJSON(t, s, http.MethodGet, "/api/v1/game/bets/alice", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, result["has_bet"])

	status, _ = doJSON(t, s, http.MethodPost, "/api/v1/game/cashout", `{"user_id": "alice"}`)
	assert.Equal(t, http.StatusConflict, status, "no cashout while betting")

	status, _ = doJSON(t, s, http.MethodPost, "/api/v1/game/cashout", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCashoutHandler_NoBet(t *testing.T) {
	cfg := game.DefaultConfig()
	w :=  wallet.NewMemoryWallet()
	m, err := game.NewManager(cfg, w, zerolog.Nop(), game.WithRandomSource(constSource(0.99)))
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	s := New(Deps{Manager: m, Wallet: w, Logger: zerolog.Nop()})

	m.Advance(0)
	m.Advance(cfg.BettingDuration)
	require.Equal(t, game.PhaseRunning, m.Phase())

	status, _ := doJSON(t, s, http.MethodPost, "/api/v1/game/cashout", `{"user_id": "nobody"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

type constSource float64

func (c constSource) Float64() (float64, error) { return float64(c), nil }

func TestHistoryHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, result := doJSON(t, s, http.MethodGet, "/api/v1/game/history?limit=5", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "engine", result["source"])
	assert.Contains(t, result, "rtp_percent")
	assert.NotContains(t, result, "rounds")
}

func TestBalanceHandler_RejectsNegative(t *testing.T) {
	s, _, _ := newTestServer(t)
	status, _ := doJSON(t, s, http.MethodPost, "/api/v1/user/carol/balance", `{"balance": -5}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestWebSocketRoute_RequiresUpgrade(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{game.ErrPhaseClosed, http.StatusConflict},
		{game.ErrDuplicateBet, http.StatusConflict},
		{game.ErrNoActiveBet, http.StatusNotFound},
		{game.ErrInsufficientFunds, http.StatusPaymentRequired},
		{game.ErrInvalidStake, http.StatusBadRequest},
		{game.ErrInvalidAutoCashout, http.StatusBadRequest},
		{game.ErrEngineStopped, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
