// Package handlers exposes the raffle and the oracle simulator over a JSON API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"raffle-oracle/internal/models"
	"raffle-oracle/internal/oracle"
	"raffle-oracle/internal/services"
)

// Ledger reports what the payout ledger holds for an address.
type Ledger interface {
	Balance(ctx context.Context, addr models.Address) (*big.Int, error)
}

// EventLog lists recorded raffle events, newest first.
type EventLog interface {
	ListEvents(ctx context.Context, limit int) ([]models.Event, error)
}

type API struct {
	Raffle *services.Raffle
	Oracle *oracle.Simulator
	Ledger Ledger
	Events EventLog
	Now    func() time.Time
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// NewRouter mounts the public API, the admin API behind adminAuth, and
// /metrics served from gatherer.
func NewRouter(a *API, adminAuth func(http.Handler) http.Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/raffle", a.GetRaffle)
		r.Get("/raffle/players/{index}", a.GetPlayer)
		r.Post("/raffle/enter", a.PostEnter)
		r.Get("/raffle/eligibility", a.GetEligibility)
		r.Post("/raffle/draw", a.PostDraw)
		r.Get("/balances/{address}", a.GetBalance)
		r.Get("/events", a.GetEvents)

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth)
			r.Post("/subscriptions", a.AdminCreateSubscription)
			r.Get("/subscriptions/{id}", a.AdminGetSubscription)
			r.Post("/subscriptions/{id}/fund", a.AdminFundSubscription)
			r.Post("/subscriptions/{id}/consumers", a.AdminAddConsumer)
			r.Delete("/subscriptions/{id}/consumers/{address}", a.AdminRemoveConsumer)
			r.Get("/requests", a.AdminPendingRequests)
			r.Post("/requests/{id}/fulfill", a.AdminFulfill)
			r.Post("/raffle/retry-payout", a.AdminRetryPayout)
			r.Post("/raffle/force-reset", a.AdminForceReset)
		})
	})
	return r
}

type raffleView struct {
	Address           models.Address     `json:"address"`
	State             models.RaffleState `json:"state"`
	Pool              string             `json:"pool"`
	Players           []models.Address   `json:"players"`
	RecentWinner      models.Address     `json:"recent_winner"`
	LastDrawTimestamp time.Time          `json:"last_draw_timestamp"`
	Interval          string             `json:"interval"`
	EntranceFee       string             `json:"entrance_fee"`
	PendingRequestID  *uint64            `json:"pending_request_id,omitempty"`
	UnpaidWinner      models.Address     `json:"unpaid_winner,omitempty"`
}

func (a *API) GetRaffle(w http.ResponseWriter, r *http.Request) {
	l := a.Raffle.Snapshot()
	v := raffleView{
		Address:           a.Raffle.Address(),
		State:             l.State,
		Pool:              l.Pool.String(),
		Players:           l.Players,
		RecentWinner:      l.RecentWinner,
		LastDrawTimestamp: l.LastDrawTimestamp,
		Interval:          a.Raffle.Interval().String(),
		EntranceFee:       a.Raffle.EntranceFee().String(),
		UnpaidWinner:      l.UnpaidWinner,
	}
	if v.Players == nil {
		v.Players = []models.Address{}
	}
	if l.HasPendingRequest {
		id := l.PendingRequestID
		v.PendingRequestID = &id
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) GetPlayer(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid index")
		return
	}
	p, ok := a.Raffle.Player(i)
	if !ok {
		writeMessage(w, http.StatusNotFound, "no player at index")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": i, "player": p})
}

type enterRequest struct {
	Entrant models.Address `json:"entrant"`
	Amount  string         `json:"amount"`
}

func (a *API) PostEnter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Entrant == "" {
		writeMessage(w, http.StatusBadRequest, "entrant is required")
		return
	}
	amount, err := models.ParseWei(req.Amount)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.Raffle.Enter(r.Context(), amount, req.Entrant); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"entrant": req.Entrant,
		"players": a.Raffle.NumPlayers(),
		"pool":    a.Raffle.Pool().String(),
	})
}

func (a *API) GetEligibility(w http.ResponseWriter, r *http.Request) {
	ok, e := a.Raffle.CheckEligibility(a.now())
	writeJSON(w, http.StatusOK, map[string]any{
		"upkeep_needed": ok,
		"details":       e,
	})
}

func (a *API) PostDraw(w http.ResponseWriter, r *http.Request) {
	id, err := a.Raffle.TriggerDraw(r.Context(), a.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"request_id": id})
}

func (a *API) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr := models.Address(chi.URLParam(r, "address"))
	bal, err := a.Ledger.Balance(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "balance": bal.String()})
}

func (a *API) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events, err := a.Events.ListEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Error writing response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps the domain error taxonomy to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrInsufficientDeposit), errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotOpen),
		errors.Is(err, models.ErrDrawNotEligible),
		errors.Is(err, models.ErrResetNotAllowed),
		errors.Is(err, models.ErrNoPendingPayout):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnknownRequest), errors.Is(err, models.ErrUnknownSubscription):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrInvalidConsumer):
		return http.StatusForbidden
	case errors.Is(err, models.ErrPayoutFailed):
		return http.StatusBadGateway
	case errors.Is(err, oracle.ErrInvalidWords):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("Request failed: %v", err)
		writeMessage(w, status, "internal error")
		return
	}
	body := map[string]any{"error": err.Error()}
	var dne *models.DrawNotEligibleError
	if errors.As(err, &dne) {
		body["pool"] = dne.Pool.String()
		body["players"] = dne.Players
		body["state"] = dne.State
	}
	writeJSON(w, status, body)
}
