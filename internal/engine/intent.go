package engine

import (
	"time"

	"github.com/mercadex/matchcore/internal/domain"
)

// Kind discriminates the five intents an Engine accepts.
type Kind int

const (
	KindSubmit Kind = iota
	KindCancel
	KindExpire
	KindSnapshot
	KindShutdown
)

// SubmitRequest carries everything needed to validate and match a new order.
// It never carries OrderID, CreatedAt, or SequenceNumber: the Engine assigns
// those once validation and reservation succeed.
type SubmitRequest struct {
	TraderID          string
	Symbol            string
	Side              domain.OrderSide
	Type              domain.OrderType
	Quantity          int64
	LimitPriceInCents *int64
	TIFSeconds        *int64
}

// Fill is one maker/taker crossing reported back to the submitter.
type Fill struct {
	MakerOrderID string
	Quantity     int64
	PriceInCents int64
}

// Result is the reply delivered on an intent's completion handle.
type Result struct {
	OrderID          string
	Status           domain.OrderStatus
	Fills            []Fill
	RejectionReason  domain.RejectionReason
	Err              error
	CancelOutcome    CancelOutcome
	SnapshotResult   Snapshot
}

// CancelOutcome is the three-way result of a Cancel intent.
type CancelOutcome string

const (
	CancelOutcomeCancelled      CancelOutcome = "CANCELLED"
	CancelOutcomeAlreadyTerminal CancelOutcome = "ALREADY_TERMINAL"
	CancelOutcomeUnknown        CancelOutcome = "UNKNOWN"
)

// Intent is one unit of work enqueued on a symbol's Engine. reply is the
// completion handle: the Engine closes the loop by sending exactly once and
// never blocks on a reply the caller has abandoned, since reply is always
// buffered by one.
type Intent struct {
	Kind     Kind
	Submit   SubmitRequest
	OrderID  string // for KindCancel and KindExpire
	Depth    int    // for KindSnapshot
	Deadline time.Time // zero means no deadline
	reply    chan Result
}

// newIntent allocates an Intent with a one-buffered reply channel so that
// Engine.Run never blocks sending the result, even if the caller stopped
// waiting (timed out, or the process is shutting down).
func newIntent(kind Kind) *Intent {
	return &Intent{Kind: kind, reply: make(chan Result, 1)}
}

// expired reports whether the intent's deadline, if any, has already
// elapsed at the moment the Engine dequeues it.
func (i *Intent) expired(now time.Time) bool {
	return !i.Deadline.IsZero() && now.After(i.Deadline)
}
