package handlers

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"raffle-oracle/internal/middleware"
	"raffle-oracle/internal/models"
	"raffle-oracle/internal/oracle"
	"raffle-oracle/internal/services"
)

const adminPassword = "pw"

type memLedger struct {
	mu       sync.Mutex
	balances map[models.Address]*big.Int
	events   []models.Event
}

func (l *memLedger) Transfer(_ context.Context, to models.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[to] == nil {
		l.balances[to] = new(big.Int)
	}
	l.balances[to].Add(l.balances[to], amount)
	return nil
}

func (l *memLedger) Balance(_ context.Context, addr models.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b := l.balances[addr]; b != nil {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *memLedger) Notify(_ context.Context, ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *memLedger) ListEvents(_ context.Context, limit int) ([]models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []models.Event{}
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.events[i])
	}
	return out, nil
}

type server struct {
	h      http.Handler
	now    time.Time
	sim    *oracle.Simulator
	raffle *services.Raffle
	subID  uint64
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	s := &server{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return s.now }

	sim, err := oracle.NewSimulator(ctx, oracle.SimulatorConfig{
		BaseFee:      big.NewInt(250),
		GasPriceLink: big.NewInt(2),
	}, oracle.WithClock(clock))
	require.NoError(t, err)
	sub, err := sim.CreateSubscription(ctx, "deployer")
	require.NoError(t, err)
	require.NoError(t, sim.FundSubscription(ctx, sub.ID, big.NewInt(1_000_000)))
	require.NoError(t, sim.AddConsumer(ctx, sub.ID, "raffle"))

	ledger := &memLedger{balances: map[models.Address]*big.Int{}}
	raffle, err := services.NewRaffle(ctx, services.RaffleConfig{
		Address:              "raffle",
		EntranceFee:          big.NewInt(100),
		Interval:             30 * time.Second,
		KeyHash:              "0xkey",
		SubscriptionID:       sub.ID,
		CallbackGasLimit:     100,
		RequestConfirmations: 3,
	}, sim, ledger, services.WithClock(clock), services.WithNotifier(ledger))
	require.NoError(t, err)
	sim.RegisterConsumer("raffle", raffle)

	api := &API{Raffle: raffle, Oracle: sim, Ledger: ledger, Events: ledger, Now: clock}
	auth := middleware.AdminAuth{Password: adminPassword}
	s.h = NewRouter(api, auth.Handler, prometheus.NewRegistry())
	s.sim, s.raffle, s.subID = sim, raffle, sub.ID
	return s
}

func (s *server) do(t *testing.T, method, path, body string, admin bool) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if admin {
		req.SetBasicAuth("admin", adminPassword)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestRaffleLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodGet, "/api/raffle", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "open", body["state"])
	assert.Equal(t, "100", body["entrance_fee"])

	code, _ = s.do(t, http.MethodPost, "/api/raffle/enter", `{"entrant":"A","amount":"99"}`, false)
	assert.Equal(t, http.StatusBadRequest, code)

	for _, p := range []string{"A", "B", "C", "D"} {
		code, _ = s.do(t, http.MethodPost, "/api/raffle/enter", `{"entrant":"`+p+`","amount":"100"}`, false)
		require.Equal(t, http.StatusCreated, code)
	}

	code, body = s.do(t, http.MethodGet, "/api/raffle/players/2", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "C", body["player"])
	code, _ = s.do(t, http.MethodGet, "/api/raffle/players/9", "", false)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(t, http.MethodPost, "/api/raffle/draw", "", false)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "open", body["state"])
	assert.Equal(t, float64(4), body["players"])

	s.now = s.now.Add(31 * time.Second)
	code, body = s.do(t, http.MethodGet, "/api/raffle/eligibility", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["upkeep_needed"])

	code, body = s.do(t, http.MethodPost, "/api/raffle/draw", "", false)
	require.Equal(t, http.StatusAccepted, code)
	reqID := int(body["request_id"].(float64))

	code, _ = s.do(t, http.MethodPost, "/api/raffle/enter", `{"entrant":"E","amount":"100"}`, false)
	assert.Equal(t, http.StatusConflict, code)

	path := "/api/admin/requests/" + strconv.Itoa(reqID) + "/fulfill"
	code, _ = s.do(t, http.MethodPost, path, `{"words":["10"]}`, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = s.do(t, http.MethodPost, path, `{"words":["10"]}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "C", body["recent_winner"])
	assert.Equal(t, "open", body["state"])

	code, _ = s.do(t, http.MethodPost, path, "", true)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(t, http.MethodGet, "/api/balances/C", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "400", body["balance"])

	code, _ = s.do(t, http.MethodPost, "/api/admin/raffle/retry-payout", "", true)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = s.do(t, http.MethodPost, "/api/admin/raffle/force-reset", "", true)
	assert.Equal(t, http.StatusConflict, code)
}

func TestSubscriptionAdminOverHTTP(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodPost, "/api/admin/subscriptions", `{"owner":"ops"}`, true)
	require.Equal(t, http.StatusCreated, code)
	id := strconv.Itoa(int(body["id"].(float64)))
	assert.Equal(t, "0", body["balance"])

	code, body = s.do(t, http.MethodPost, "/api/admin/subscriptions/"+id+"/fund", `{"amount":"450"}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "450", body["balance"])

	code, body = s.do(t, http.MethodPost, "/api/admin/subscriptions/"+id+"/consumers", `{"address":"raffle"}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"raffle"}, body["consumers"])

	code, body = s.do(t, http.MethodDelete, "/api/admin/subscriptions/"+id+"/consumers/raffle", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["consumers"])

	code, _ = s.do(t, http.MethodGet, "/api/admin/subscriptions/999", "", true)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodPost, "/api/admin/subscriptions/999/fund", `{"amount":"1"}`, true)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/api/admin/subscriptions/abc", "", true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrInsufficientDeposit, http.StatusBadRequest},
		{models.ErrNotOpen, http.StatusConflict},
		{&models.DrawNotEligibleError{Pool: new(big.Int)}, http.StatusConflict},
		{models.ErrResetNotAllowed, http.StatusConflict},
		{models.ErrUnknownRequest, http.StatusNotFound},
		{models.ErrUnknownSubscription, http.StatusNotFound},
		{models.ErrInsufficientFunds, http.StatusPaymentRequired},
		{models.ErrInvalidConsumer, http.StatusForbidden},
		{models.ErrPayoutFailed, http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusOf(c.err), c.err.Error())
	}
}

func TestEventsAndMetricsEndpoints(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/api/raffle/enter", `{"entrant":"A","amount":"100"}`, false)

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=5", nil)
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEntryRecorded, events[0].Kind)

	rec = httptest.NewRecorder()
	s.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
