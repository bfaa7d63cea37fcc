package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/pricing"
	"github.com/iliyamo/cinema-booking-engine/internal/seatlock"
)

type SeatMapSeat struct {
	SeatID    uint64           `json:"seat_id"`
	Label     string           `json:"label"`
	Row       string           `json:"row"`
	Number    uint32           `json:"number"`
	Type      string           `json:"type"`
	BasePrice decimal.Decimal  `json:"base_price"`
	Price     decimal.Decimal  `json:"price"`
	Status    model.SeatStatus `json:"status"`
}

type SeatMap struct {
	ShowtimeID     uint64        `json:"showtime_id"`
	TotalSeats     int           `json:"total_seats"`
	AvailableSeats int           `json:"available_seats"`
	Currency       string        `json:"currency"`
	Seats          []SeatMapSeat `json:"seats"`
}

// PriceQuote is the dynamic price of one seat with its breakdown.
type PriceQuote struct {
	ShowtimeID uint64            `json:"showtime_id"`
	SeatID     uint64            `json:"seat_id"`
	Label      string            `json:"label"`
	Occupancy  float64           `json:"occupancy"`
	Steps      []pricing.Step    `json:"breakdown"`
	Applied    []pricing.Applied `json:"applied"`
	Price      decimal.Decimal   `json:"price"`
}

// SeatMapCache stores rendered seat maps. Implementations drop entries on
// every availability change of the showtime and count those drops in a
// generation; Set must not store a map rendered under an older one.
type SeatMapCache interface {
	Get(ctx context.Context, showtimeID uint64) ([]byte, bool)
	Generation(ctx context.Context, showtimeID uint64) (int64, error)
	Set(ctx context.Context, showtimeID uint64, gen int64, data []byte, ttl time.Duration)
}

// unbounded is the validity of a seat map with no live holds; the cache
// applies its own TTL.
const unbounded = time.Duration(1<<63 - 1)

type SeatMapService struct {
	catalog  Catalog
	locks    *seatlock.Manager
	pricing  *pricing.Engine
	settings *config.Settings
	clock    clock.Clock
	cache    SeatMapCache
	log      *zap.Logger
}

// NewSeatMapService builds the seat map reader. cache may be nil.
func NewSeatMapService(cat Catalog, locks *seatlock.Manager, pe *pricing.Engine, s *config.Settings, clk clock.Clock, cache SeatMapCache, log *zap.Logger) *SeatMapService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SeatMapService{catalog: cat, locks: locks, pricing: pe, settings: s, clock: clk, cache: cache, log: log}
}

// GetSeatMap renders every seat of the showtime's screen with its current
// dynamic price and status. Booked wins over locked, which wins over the
// seat's own out-of-sale flag.
func (s *SeatMapService) GetSeatMap(ctx context.Context, showtimeID uint64) (*SeatMap, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, showtimeID); ok {
			var sm SeatMap
			if err := json.Unmarshal(data, &sm); err == nil {
				return &sm, nil
			}
			s.log.Warn("discarding unreadable cached seat map", zap.Uint64("showtime_id", showtimeID))
		}
	}

	// read before rendering so an invalidation that races the render wins
	gen, genErr := int64(0), error(nil)
	if s.cache != nil {
		gen, genErr = s.cache.Generation(ctx, showtimeID)
	}

	st, err := s.catalog.GetShowtime(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	seats, err := s.catalog.GetSeatsByScreen(ctx, st.ScreenID)
	if err != nil {
		return nil, errs.Wrap(err, "load seats")
	}
	booked, err := s.locks.BookedSeatIDs(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	live, err := s.locks.LiveHolds(ctx, showtimeID, now)
	if err != nil {
		return nil, err
	}
	// a lapsed hold frees its seat without an event, so the map is only
	// good until the first live hold expires
	bookedSet, lockedSet := toSet(booked), make(map[uint64]bool, len(live))
	validFor := unbounded
	for _, h := range live {
		lockedSet[h.SeatID] = true
		if d := h.ExpiresAt.Sub(now); d < validFor {
			validFor = d
		}
	}

	occupancy := st.Occupancy()
	sm := &SeatMap{
		ShowtimeID:     st.ID,
		TotalSeats:     st.TotalSeats,
		AvailableSeats: st.AvailableSeats,
		Currency:       s.settings.String(config.KeyCurrency),
		Seats:          make([]SeatMapSeat, 0, len(seats)),
	}
	for _, seat := range seats {
		status := model.SeatAvailable
		switch {
		case bookedSet[seat.ID]:
			status = model.SeatBooked
		case lockedSet[seat.ID]:
			status = model.SeatLocked
		case !seat.IsAvailable:
			status = model.SeatUnavailable
		}
		sm.Seats = append(sm.Seats, SeatMapSeat{
			SeatID:    seat.ID,
			Label:     seat.Label(),
			Row:       seat.RowLabel,
			Number:    seat.SeatNumber,
			Type:      seat.SeatType,
			BasePrice: seat.BasePrice,
			Price:     s.pricing.FinalPrice(seat.BasePrice, occupancy, st.StartsAt),
			Status:    status,
		})
	}

	if s.cache != nil && genErr == nil {
		if data, err := json.Marshal(sm); err == nil {
			s.cache.Set(ctx, showtimeID, gen, data, validFor)
		}
	}
	return sm, nil
}

// GetPriceBreakdown explains the current price of one seat.
func (s *SeatMapService) GetPriceBreakdown(ctx context.Context, showtimeID, seatID uint64) (*PriceQuote, error) {
	st, err := s.catalog.GetShowtime(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	seats, err := s.catalog.GetSeatsByIDs(ctx, []uint64{seatID})
	if err != nil {
		return nil, errs.Wrap(err, "load seat")
	}
	if len(seats) == 0 || seats[0].ScreenID != st.ScreenID {
		return nil, errs.Mark(errs.Newf("seat %d on showtime %d", seatID, showtimeID), errs.ErrNotFound)
	}
	seat := seats[0]
	occupancy := st.Occupancy()
	price, applied := s.pricing.Price(s.pricing.NewContext(seat.BasePrice, occupancy, st.StartsAt))
	return &PriceQuote{
		ShowtimeID: showtimeID,
		SeatID:     seat.ID,
		Label:      seat.Label(),
		Occupancy:  occupancy,
		Steps:      s.pricing.Breakdown(seat.BasePrice, occupancy, st.StartsAt),
		Applied:    applied,
		Price:      price,
	}, nil
}
