package drop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/store"
)

// Wallet moves money in and out of user balances.
type Wallet interface {
	Debit(ctx context.Context, userID string, amount int64) (int64, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
}

// Recorder persists settled drops.
type Recorder interface {
	RecordDrop(ctx context.Context, drop *store.Drop) error
}

const defaultSettleTimeout = 5 * time.Second

// Settler pays out landed drops, refunds failed ones and records both.
type Settler struct {
	svc      *Service
	wallet   Wallet
	recorder Recorder
	log      *logrus.Entry
	timeout  time.Duration
}

// NewSettler registers a settler on svc. recorder may be nil.
func NewSettler(svc *Service, wallet Wallet, recorder Recorder, log *logrus.Entry) *Settler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	st := &Settler{
		svc:      svc,
		wallet:   wallet,
		recorder: recorder,
		log:      log.WithField("component", "settle"),
		timeout:  defaultSettleTimeout,
	}
	svc.AddListener(st)
	return st
}

// Place debits the bet, drops the ball and waits for the settled result. A
// drop that cannot start is refunded before Place returns.
func (st *Settler) Place(ctx context.Context, req DropRequest) (Result, error) {
	if err := st.svc.validate(req); err != nil {
		return Result{}, err
	}
	if _, err := st.wallet.Debit(ctx, req.UserID, req.Bet); err != nil {
		return Result{}, err
	}

	waiter := make(chan Result, 1)
	if _, err := st.svc.request(ctx, req, waiter); err != nil {
		refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), st.timeout)
		defer cancel()
		if _, rerr := st.wallet.Credit(refundCtx, req.UserID, req.Bet); rerr != nil {
			st.log.WithFields(logrus.Fields{"user": req.UserID, "bet": req.Bet}).WithError(rerr).Error("refund after rejected drop failed")
		}
		return Result{}, err
	}
	return wait(ctx, waiter)
}

// OnOutcome implements OutcomeListener.
func (st *Settler) OnOutcome(ctx context.Context, r Result) {
	if err := st.Settle(ctx, r); err != nil {
		st.log.WithFields(logrus.Fields{"drop": r.DropID, "user": r.UserID}).WithError(err).Error("settlement failed")
	}
}

// Settle credits the payout, or the bet for a failed drop, then records the drop.
func (st *Settler) Settle(ctx context.Context, r Result) error {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()

	credit := r.Payout
	if r.Failed() {
		credit = r.Bet
	}
	if credit > 0 {
		if _, err := st.wallet.Credit(ctx, r.UserID, credit); err != nil {
			return fmt.Errorf("credit %d: %w", credit, err)
		}
	}

	if st.recorder == nil {
		return nil
	}
	rec, err := Record(r)
	if err != nil {
		return err
	}
	if err := st.recorder.RecordDrop(ctx, rec); err != nil {
		return fmt.Errorf("record drop: %w", err)
	}
	return nil
}

// Record converts a result into its stored form.
func Record(r Result) (*store.Drop, error) {
	pattern, err := json.Marshal(r.Pattern)
	if err != nil {
		return nil, fmt.Errorf("encode pattern: %w", err)
	}

	d := &store.Drop{
		ID:         string(r.DropID),
		UserID:     r.UserID,
		Rows:       r.Rows,
		Risk:       r.Risk,
		Bet:        r.Bet,
		Status:     store.DropLanded,
		Sink:       r.Sink,
		WalkBucket: r.WalkBucket,
		Multiplier: r.Multiplier,
		Payout:     r.Payout,
		Pattern:    string(pattern),
		StartX:     r.StartX,
		Ticks:      r.Ticks,
		Resting:    r.Resting,
	}
	if r.Failed() {
		d.Status = store.DropFailed
		d.Failure = r.Err.Error()
	}
	return d, nil
}
