package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parimutuel-escrow/internal/bonus"
	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/engine"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/observability"
	"parimutuel-escrow/internal/oracle"
	"parimutuel-escrow/internal/storage/memory"
)

var serveEvent = domain.EventParams{EventID: 77, EventName: "LIVvMUN", CutoffTime: 1_700_000_000_000}

type testServer struct {
	srv  *httptest.Server
	now  *atomic.Int64
	priv ed25519.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 42
	priv := ed25519.NewKeyFromSeed(seed)
	auth, err := oracle.NewAuthority(priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)

	now := &atomic.Int64{}
	now.Store(serveEvent.CutoffTime - 1)

	store := memory.NewLedgerStore()
	e := engine.New(engine.Options{
		Store:     store,
		Audit:     memory.NewAuditStore(),
		Reserver:  memory.NewReserver(),
		Authority: auth,
		Tiers:     bonus.Default(),
		Metrics:   observability.NewMetricsWith(prometheus.NewRegistry(), "serve_test"),

		MinFundValue: engine.DefaultMinFundValue,
		Now:          func() time.Time { return time.UnixMilli(now.Load()) },
	})

	event := serveEvent
	a := newAPI(e, store, &event, log.New(io.Discard, "", 0))
	srv := httptest.NewServer(a.routes())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, now: now, priv: priv}
}

func (s *testServer) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return decodeResponse(t, resp)
}

func (s *testServer) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	require.NoError(t, err)
	return decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (s *testServer) lock(t *testing.T, outcome string, ada int64, owner string) string {
	t.Helper()
	status, body := s.post(t, "/lock", map[string]any{
		"outcome":    outcome,
		"ada_amount": ada,
		"owner":      owner,
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["position_id"].(string)
}

func (s *testServer) capability() string {
	return oracle.IssueCapability(s.priv, idhash.ComputePotID(serveEvent)).Encode()
}

func (s *testServer) sweepBody(target string) map[string]any {
	c := oracle.IssueSweepCapability(s.priv, idhash.ComputePotID(serveEvent), target)
	return map[string]any{"treasury": target, "capability": c.Encode()}
}

func TestServe_Health(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestServe_SettlementFlow(t *testing.T) {
	s := newTestServer(t)

	alice := s.lock(t, "HOME", 10_000_000, "alice")
	s.lock(t, "AWAY", 15_000_000, "bob")
	carol := s.lock(t, "HOME", 12_000_000, "carol")

	// Settlement before cutoff is rejected.
	status, body := s.post(t, "/outcome", map[string]any{"outcome": "HOME", "capability": s.capability()})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(domain.CodeDeadlineViolation), body["code"])

	s.now.Store(serveEvent.CutoffTime)

	status, body = s.post(t, "/outcome", map[string]any{"outcome": "HOME", "capability": s.capability()})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "HOME", body["winning_outcome"])
	assert.EqualValues(t, 37_000_000, body["total_pot_ada"])
	assert.EqualValues(t, 22_000_000, body["total_winning_stake"])

	status, body = s.get(t, "/plan?position_id="+alice)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 16_818_181, body["payout"])
	assert.EqualValues(t, 16_818_182, body["max_allowed"])

	status, body = s.post(t, "/redeem", map[string]any{"position_id": alice, "recipient": "addr_alice"})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 16_818_181, body["payout"])
	assert.Equal(t, "addr_alice", body["recipient"])

	status, body = s.post(t, "/redeem", map[string]any{"position_id": alice, "recipient": "addr_alice"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.ReasonAlreadyRedeemed, body["reason"])

	status, body = s.get(t, "/status")
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 37_000_000+oracle.DefaultMarkerLovelace-16_818_181, body["live_value"])
	assert.Len(t, body["positions"], 3)

	status, body = s.get(t, "/reconcile")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["match"])
	assert.EqualValues(t, 1, body["redemptions"])

	// Carol has not redeemed yet.
	status, body = s.post(t, "/sweep", s.sweepBody("addr_treasury"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.ReasonUnclaimed, body["reason"])

	// A capability for one target cannot redirect the sweep.
	redirected := s.sweepBody("addr_treasury")
	redirected["treasury"] = "addr_attacker"
	status, body = s.post(t, "/sweep", redirected)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.ReasonUnauthorized, body["reason"])

	status, body = s.post(t, "/redeem", map[string]any{"position_id": carol, "recipient": "addr_carol"})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 20_181_818, body["payout"])

	status, body = s.post(t, "/sweep", s.sweepBody("addr_treasury"))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["marker_burned"])
	assert.EqualValues(t, 37_000_000+oracle.DefaultMarkerLovelace-16_818_181-20_181_818, body["total_value"])
}

func TestServe_ExplicitStatisticsMustBePaired(t *testing.T) {
	s := newTestServer(t)
	s.lock(t, "TIE", 5_000_000, "dave")
	s.now.Store(serveEvent.CutoffTime)

	status, body := s.post(t, "/outcome", map[string]any{
		"outcome":       "TIE",
		"capability":    s.capability(),
		"total_pot_ada": 5_000_000,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(domain.CodeInvalidInput), body["code"])
}

func TestServe_RejectsMalformedRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"unknown field", "/lock", map[string]any{"outcome": "HOME", "ada_amount": 1, "color": "red"}},
		{"unknown outcome", "/lock", map[string]any{"outcome": "DRAW", "ada_amount": 2_000_000}},
		{"bad capability", "/outcome", map[string]any{"outcome": "HOME", "capability": "not-base58-0OIl"}},
		{"bad sweep capability", "/sweep", map[string]any{"treasury": "addr_treasury", "capability": "0OIl"}},
		{"bead burn overflows", "/lock", map[string]any{"outcome": "HOME", "ada_amount": 1, "bead_burn_amount": 9_223_372_036_854, "owner": "mallory"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.post(t, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, status, body)
		})
	}
}

func TestServe_MintInvariantRejected(t *testing.T) {
	s := newTestServer(t)

	status, body := s.post(t, "/lock", map[string]any{
		"outcome":       "AWAY",
		"ada_amount":    3_000_000,
		"mint_quantity": 3_000_001,
		"owner":         "eve",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(domain.CodeInvariantViolation), body["code"])
}

func TestServe_StatusForOtherEvent(t *testing.T) {
	s := newTestServer(t)
	s.lock(t, "HOME", 4_000_000, "frank")

	q := "/status?event_id=78&event_name=CHEvTOT&cutoff_ms=" + strconv.FormatInt(serveEvent.CutoffTime, 10)
	status, body := s.get(t, q)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 0, body["live_value"])

	status, body = s.get(t, "/status?event_id=x")
	assert.Equal(t, http.StatusBadRequest, status, body)
}
