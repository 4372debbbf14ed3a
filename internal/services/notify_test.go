package services

import (
	"context"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"raffle-oracle/internal/models"
)

func TestNotifiers_FanOut(t *testing.T) {
	var got []string
	a := NotifierFunc(func(_ context.Context, ev models.Event) { got = append(got, "a:"+string(ev.Kind)) })
	b := NotifierFunc(func(_ context.Context, ev models.Event) { got = append(got, "b:"+string(ev.Kind)) })

	Notifiers{a, nil, b}.Notify(context.Background(), models.Event{Kind: models.EventDrawRequested})
	assert.Equal(t, []string{"a:draw_requested", "b:draw_requested"}, got)
}

func TestFormatEvent(t *testing.T) {
	fee, _ := models.ParseUnits("0.01")
	pool, _ := models.ParseUnits("0.04")

	cases := []struct {
		ev   models.Event
		want string
	}{
		{models.Event{Kind: models.EventEntryRecorded, Entrant: "alice", Amount: fee}, "alice (0.01 ETH)"},
		{models.Event{Kind: models.EventDrawRequested, RequestID: 7}, "#7"},
		{models.Event{Kind: models.EventWinnerSelected, Winner: "C", Amount: pool}, "Winner: C, paid 0.04 ETH"},
		{models.Event{Kind: models.EventPayoutFailed, Winner: "C", Amount: pool}, "Payout of 0.04 ETH to C failed"},
	}
	for _, c := range cases {
		t.Run(string(c.ev.Kind), func(t *testing.T) {
			assert.Contains(t, FormatEvent(c.ev), c.want)
		})
	}
}

func TestMetricsNotifier(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsNotifier(reg)
	ctx := context.Background()

	m.Notify(ctx, models.Event{Kind: models.EventEntryRecorded, Amount: big.NewInt(100)})
	m.Notify(ctx, models.Event{Kind: models.EventEntryRecorded, Amount: big.NewInt(100)})
	m.Notify(ctx, models.Event{Kind: models.EventWinnerSelected, Amount: big.NewInt(200)})
	m.Notify(ctx, models.Event{Kind: models.EventDrawRequested})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues(string(models.EventEntryRecorded))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.events.WithLabelValues(string(models.EventDrawRequested))))
	assert.Equal(t, float64(200), testutil.ToFloat64(m.depositsWei))
	assert.Equal(t, float64(200), testutil.ToFloat64(m.paidOutWei))
}

func TestRaffleCollector(t *testing.T) {
	f := newFixture(t)
	f.enter(t, "A", "B")

	assert.Equal(t, 3, testutil.CollectAndCount(NewRaffleCollector(f.raffle)))
}
