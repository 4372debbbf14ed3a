package handlers

import (
	"math/big"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/logger"
	"raffle-oracle/internal/models"
)

type subscriptionView struct {
	ID        uint64           `json:"id"`
	Owner     models.Address   `json:"owner"`
	Balance   string           `json:"balance"`
	Consumers []models.Address `json:"consumers"`
}

func newSubscriptionView(sub models.Subscription) subscriptionView {
	v := subscriptionView{
		ID:        sub.ID,
		Owner:     sub.Owner,
		Balance:   sub.Balance.String(),
		Consumers: make([]models.Address, 0, len(sub.Consumers)),
	}
	for c := range sub.Consumers {
		v.Consumers = append(v.Consumers, c)
	}
	sort.Slice(v.Consumers, func(i, j int) bool { return v.Consumers[i] < v.Consumers[j] })
	return v
}

func idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (a *API) AdminCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner models.Address `json:"owner"`
	}
	if !decode(w, r, &req) {
		return
	}
	sub, err := a.Oracle.CreateSubscription(r.Context(), req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSubscriptionView(sub))
}

func (a *API) AdminGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	sub, err := a.Oracle.GetSubscription(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub))
}

func (a *API) AdminFundSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	amount, err := models.ParseWei(req.Amount)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.Oracle.FundSubscription(r.Context(), id, amount); err != nil {
		writeError(w, err)
		return
	}
	a.AdminGetSubscription(w, r)
}

func (a *API) AdminAddConsumer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Address models.Address `json:"address"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Address == "" {
		writeMessage(w, http.StatusBadRequest, "address is required")
		return
	}
	if err := a.Oracle.AddConsumer(r.Context(), id, req.Address); err != nil {
		writeError(w, err)
		return
	}
	a.AdminGetSubscription(w, r)
}

func (a *API) AdminRemoveConsumer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	addr := models.Address(chi.URLParam(r, "address"))
	if err := a.Oracle.RemoveConsumer(r.Context(), id, addr); err != nil {
		writeError(w, err)
		return
	}
	a.AdminGetSubscription(w, r)
}

func (a *API) AdminPendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs := a.Oracle.PendingRequests()
	if reqs == nil {
		reqs = []models.RandomnessRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// AdminFulfill delivers words to the request's own consumer. An optional
// body {"words": ["<decimal>", ...]} replaces the derived words.
func (a *API) AdminFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, found := a.Oracle.GetRequest(id)
	if !found {
		writeError(w, models.ErrUnknownRequest)
		return
	}

	var body struct {
		Words []string `json:"words"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}

	var err error
	if len(body.Words) == 0 {
		err = a.Oracle.FulfillRandomness(r.Context(), id, req.Requester)
	} else {
		words := make([]*big.Int, len(body.Words))
		for i, s := range body.Words {
			if words[i], err = models.ParseWei(s); err != nil {
				writeMessage(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		err = a.Oracle.FulfillRandomnessWithOverride(r.Context(), id, req.Requester, words)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Infof("Request %d fulfilled by admin", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":    id,
		"recent_winner": a.Raffle.RecentWinner(),
		"state":         a.Raffle.State(),
	})
}

func (a *API) AdminRetryPayout(w http.ResponseWriter, r *http.Request) {
	if err := a.Raffle.RetryPayout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	a.GetRaffle(w, r)
}

func (a *API) AdminForceReset(w http.ResponseWriter, r *http.Request) {
	if err := a.Raffle.ForceReset(r.Context(), a.now()); err != nil {
		writeError(w, err)
		return
	}
	a.GetRaffle(w, r)
}
