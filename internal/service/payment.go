package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/lifecycle"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// PaymentStatus is the outcome reported by a payment gateway.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentPending PaymentStatus = "PENDING"
)

type ChargeRequest struct {
	BookingID uint64
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Method    string
	// IdempotencyKey is the same for every attempt on one booking; a
	// gateway answers repeats with the original charge.
	IdempotencyKey string
}

type PaymentResult struct {
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id"`
	Gateway       string        `json:"gateway"`
	Message       string        `json:"message,omitempty"`
}

// Gateway charges a booking. The engine only cares about the outcome.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (PaymentResult, error)
}

// StaticGateway answers every charge with a fixed status. It stands in
// for a real processor in development and tests. Settled charges are
// replayed for repeated idempotency keys.
type StaticGateway struct {
	mu      sync.Mutex
	status  PaymentStatus
	calls   []ChargeRequest
	settled map[string]PaymentResult
}

func NewStaticGateway(status PaymentStatus) *StaticGateway {
	return &StaticGateway{status: status, settled: make(map[string]PaymentResult)}
}

func (g *StaticGateway) SetStatus(st PaymentStatus) {
	g.mu.Lock()
	g.status = st
	g.mu.Unlock()
}

// Calls returns the charges seen so far.
func (g *StaticGateway) Calls() []ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ChargeRequest(nil), g.calls...)
}

func (g *StaticGateway) Charge(_ context.Context, req ChargeRequest) (PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if res, ok := g.settled[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return res, nil
	}
	res := PaymentResult{Status: g.status, TransactionID: "TXN" + uuid.NewString()[:8], Gateway: "static"}
	if res.Status != PaymentPending && req.IdempotencyKey != "" {
		g.settled[req.IdempotencyKey] = res
	}
	return res, nil
}

// ProcessPayment charges the user's Held booking and applies the outcome.
// No lock is held while the gateway runs.
func (s *BookingService) ProcessPayment(ctx context.Context, bookingID, userID uint64, method string) (*model.Booking, PaymentResult, error) {
	if s.gateway == nil {
		return nil, PaymentResult{}, errs.New("no payment gateway configured")
	}
	b, err := s.ownedBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, PaymentResult{}, err
	}
	if b.Status != model.BookingHeld {
		return nil, PaymentResult{}, errs.Mark(errs.Newf("booking %d is %s", b.ID, b.Status), errs.ErrConflict)
	}

	res, err := s.gateway.Charge(ctx, ChargeRequest{
		BookingID: b.ID,
		Reference: b.Reference,
		Amount:    b.TotalAmount,
		Currency:  s.settings.String(config.KeyCurrency),
		Method:    method,

		IdempotencyKey: b.Reference,
	})
	if err != nil {
		return nil, PaymentResult{}, errs.Wrap(err, "charge booking")
	}
	s.log.Info("payment processed",
		zap.Uint64("booking_id", b.ID), zap.String("status", string(res.Status)),
		zap.String("gateway", res.Gateway), zap.String("transaction_id", res.TransactionID))

	b, applied, err := s.applyOutcome(ctx, bookingID, res)
	if err != nil {
		return b, res, err
	}
	if res.Status == PaymentSuccess && !applied && (b.PaymentRef == nil || *b.PaymentRef != res.TransactionID) {
		// a concurrent payment confirmed the booking under another charge
		s.log.Error("duplicate charge for confirmed booking",
			zap.Uint64("booking_id", bookingID), zap.String("transaction_id", res.TransactionID))
		return b, res, errs.Mark(errs.Newf("booking %d already paid", bookingID), errs.ErrConflict)
	}
	return b, res, nil
}

// HandlePaymentOutcome applies a gateway result: success confirms the
// booking, failure cancels it, pending leaves it untouched.
func (s *BookingService) HandlePaymentOutcome(ctx context.Context, bookingID uint64, res PaymentResult) (*model.Booking, error) {
	b, _, err := s.applyOutcome(ctx, bookingID, res)
	return b, err
}

func (s *BookingService) applyOutcome(ctx context.Context, bookingID uint64, res PaymentResult) (*model.Booking, bool, error) {
	switch res.Status {
	case PaymentSuccess:
		return s.confirm(ctx, bookingID, res.TransactionID)
	case PaymentFailed:
		return s.transition(ctx, bookingID, lifecycle.Cancel, change{reason: ReasonPaymentFailed})
	case PaymentPending:
		b, err := s.bookings.GetBooking(ctx, bookingID)
		return b, false, err
	}
	return nil, false, errs.Mark(errs.Newf("unknown payment status %q", res.Status), errs.ErrInvalidInput)
}
