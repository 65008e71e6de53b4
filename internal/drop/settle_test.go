package drop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/plinko-engine/internal/games"
	"github.com/MJE43/plinko-engine/internal/logging"
	"github.com/MJE43/plinko-engine/internal/store"
)

type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]int64
	credits  []int64
}

func newFakeWallet(balances map[string]int64) *fakeWallet {
	return &fakeWallet{balances: balances}
}

func (w *fakeWallet) Debit(_ context.Context, userID string, amount int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal, ok := w.balances[userID]
	if !ok {
		return 0, store.ErrUserNotFound
	}
	if bal < amount {
		return bal, store.ErrInsufficientBalance
	}
	w.balances[userID] = bal - amount
	return bal - amount, nil
}

func (w *fakeWallet) Credit(_ context.Context, userID string, amount int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal, ok := w.balances[userID]
	if !ok {
		return 0, store.ErrUserNotFound
	}
	w.balances[userID] = bal + amount
	w.credits = append(w.credits, amount)
	return bal + amount, nil
}

func (w *fakeWallet) balance(userID string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

type fakeRecorder struct {
	mu    sync.Mutex
	drops []*store.Drop
	err   error
}

func (r *fakeRecorder) RecordDrop(_ context.Context, d *store.Drop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.drops = append(r.drops, d)
	return nil
}

func (r *fakeRecorder) recorded() []*store.Drop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*store.Drop(nil), r.drops...)
}

func TestSettlerPlacePaysOut(t *testing.T) {
	svc := newTestService(t, seeded(21), seeded(22))
	wallet := newFakeWallet(map[string]int64{"alice": 1000})
	rec := &fakeRecorder{}
	settler := NewSettler(svc, wallet, rec, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go svc.Run(ctx, 100*time.Microsecond)

	r, err := settler.Place(ctx, DropRequest{UserID: "alice", Bet: 100})
	require.NoError(t, err)

	assert.Equal(t, 1000-100+r.Payout, wallet.balance("alice"))
	drops := rec.recorded()
	require.Len(t, drops, 1)
	assert.Equal(t, string(r.DropID), drops[0].ID)
	assert.Equal(t, store.DropLanded, drops[0].Status)
	assert.Equal(t, r.Sink, drops[0].Sink)
	assert.Equal(t, r.Payout, drops[0].Payout)
	assert.Empty(t, drops[0].Failure)
}

func TestSettlerPlaceRejectsBeforeDebit(t *testing.T) {
	svc := newTestService(t, seeded(23), seeded(24))
	wallet := newFakeWallet(map[string]int64{"bob": 50})
	settler := NewSettler(svc, wallet, nil, logging.Discard())
	ctx := context.Background()

	_, err := settler.Place(ctx, DropRequest{UserID: "bob", Bet: 0})
	assert.ErrorIs(t, err, ErrInvalidBet)

	_, err = settler.Place(ctx, DropRequest{UserID: "bob", Bet: 51})
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)
	assert.Equal(t, int64(50), wallet.balance("bob"))
	assert.Zero(t, svc.Pending())
}

func TestSettlerRefundsWhenDropCannotStart(t *testing.T) {
	svc := newTestService(t, seeded(25), seeded(26))
	wallet := newFakeWallet(map[string]int64{"carol": 500})
	settler := NewSettler(svc, wallet, nil, logging.Discard())
	svc.Stop()

	_, err := settler.Place(context.Background(), DropRequest{UserID: "carol", Bet: 200})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, int64(500), wallet.balance("carol"))
}

func TestSettlerRefundsStoppedDrops(t *testing.T) {
	svc := newTestService(t, seeded(27), seeded(28))
	wallet := newFakeWallet(map[string]int64{"dave": 300})
	rec := &fakeRecorder{}
	NewSettler(svc, wallet, rec, logging.Discard())
	ctx := context.Background()

	_, err := wallet.Debit(ctx, "dave", 100)
	require.NoError(t, err)
	_, err = svc.RequestDrop(ctx, DropRequest{UserID: "dave", Bet: 100})
	require.NoError(t, err)

	svc.Stop()

	assert.Equal(t, int64(300), wallet.balance("dave"))
	drops := rec.recorded()
	require.Len(t, drops, 1)
	assert.Equal(t, store.DropFailed, drops[0].Status)
	assert.Equal(t, -1, drops[0].Sink)
	assert.Contains(t, drops[0].Failure, ErrStopped.Error())
}

func TestSettleReportsRecorderErrors(t *testing.T) {
	svc := newTestService(t, seeded(29), seeded(30))
	wallet := newFakeWallet(map[string]int64{"erin": 0})
	settler := NewSettler(svc, wallet, &fakeRecorder{err: errors.New("disk full")}, logging.Discard())

	err := settler.Settle(context.Background(), Result{DropID: "d1", UserID: "erin", Bet: 10, Sink: 3, Multiplier: 2, Payout: 20})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int64(20), wallet.balance("erin"), "credit happens before recording")

	err = settler.Settle(context.Background(), Result{DropID: "d2", UserID: "ghost", Bet: 10, Payout: 20})
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestSettleSkipsZeroPayout(t *testing.T) {
	svc := newTestService(t, seeded(31), seeded(32))
	wallet := newFakeWallet(map[string]int64{"frank": 0})
	settler := NewSettler(svc, wallet, nil, logging.Discard())

	require.NoError(t, settler.Settle(context.Background(), Result{UserID: "frank", Bet: 10, Sink: 8}))
	assert.Empty(t, wallet.credits)
}

func TestRecordEncodesPattern(t *testing.T) {
	d, err := Record(Result{
		DropID:     "abc",
		UserID:     "u",
		Rows:       8,
		Risk:       "low",
		Bet:        10,
		Sink:       2,
		WalkBucket: 1,
		Multiplier: 1.1,
		Payout:     11,
		Pattern:    []games.Direction{games.Left, games.Right, games.Left},
		StartX:     381.5,
		Ticks:      210,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", d.ID)
	assert.Equal(t, `["left","right","left"]`, d.Pattern)
	assert.Equal(t, store.DropLanded, d.Status)

	var decoded []games.Direction
	require.NoError(t, json.Unmarshal([]byte(d.Pattern), &decoded))
	assert.Equal(t, []games.Direction{games.Left, games.Right, games.Left}, decoded)
}
