// Package pricing computes dynamic seat prices. Prices are the seat's base
// price times the product of every applicable strategy multiplier, rounded
// half-up to two decimal places.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/config"
)

// Applied is one entry of the audit trail: a strategy whose multiplier was
// not one.
type Applied struct {
	Strategy   string          `json:"strategy"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Step is one row of a price breakdown: the running price after applying
// Multiplier.
type Step struct {
	Label      string          `json:"label"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Price      decimal.Decimal `json:"price"`
}

// BaseLabel is the first row of every breakdown.
const BaseLabel = "BASE_PRICE"

var one = decimal.NewFromInt(1)

type Engine struct {
	settings   *config.Settings
	clock      clock.Clock
	strategies []Strategy
	log        *zap.Logger
}

// NewEngine builds an engine with the peak-hour, weekend/holiday and
// demand strategies, evaluated in that order.
func NewEngine(s *config.Settings, clk clock.Clock, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		settings:   s,
		clock:      clk,
		strategies: []Strategy{PeakHourStrategy(s), WeekendHolidayStrategy(s), DemandStrategy(s)},
		log:        log,
	}
}

// NewContext derives calendar facts for showAt in the configured pricing
// time zone.
func (e *Engine) NewContext(basePrice decimal.Decimal, occupancy float64, showAt time.Time) Context {
	local := showAt.In(e.settings.Location(config.KeyPricingTimezone))
	wd := local.Weekday()
	days := int(showAt.Sub(e.clock.Now()).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return Context{
		BasePrice:     basePrice,
		Occupancy:     decimal.NewFromFloat(occupancy),
		ShowTime:      local,
		Weekend:       wd == time.Saturday || wd == time.Sunday,
		Holiday:       e.settings.Dates(config.KeyHolidays)[local.Format("2006-01-02")],
		DaysUntilShow: days,
	}
}

// FinalPrice prices one seat.
func (e *Engine) FinalPrice(basePrice decimal.Decimal, occupancy float64, showAt time.Time) decimal.Decimal {
	price, _ := e.Price(e.NewContext(basePrice, occupancy, showAt))
	return price
}

// Price applies every strategy to c and returns the rounded price plus the
// strategies that changed it.
func (e *Engine) Price(c Context) (decimal.Decimal, []Applied) {
	combined := one
	var applied []Applied
	for _, st := range e.strategies {
		m := st.Multiplier(c)
		if m.Equal(one) {
			continue
		}
		combined = combined.Mul(m)
		applied = append(applied, Applied{Strategy: st.Name, Multiplier: m})
	}
	price := RoundMoney(c.BasePrice.Mul(combined))
	if len(applied) > 0 {
		e.log.Debug("dynamic price applied",
			zap.String("base", c.BasePrice.StringFixed(2)),
			zap.String("multiplier", combined.String()),
			zap.String("final", price.StringFixed(2)),
			zap.Int("strategies", len(applied)))
	}
	return price, applied
}

// Breakdown returns the base price followed by the running price after each
// applicable strategy. Each running price is rounded to cents, so the last
// row may differ by a cent from FinalPrice on long chains.
func (e *Engine) Breakdown(basePrice decimal.Decimal, occupancy float64, showAt time.Time) []Step {
	c := e.NewContext(basePrice, occupancy, showAt)
	running := RoundMoney(basePrice)
	steps := []Step{{Label: BaseLabel, Multiplier: one, Price: running}}
	for _, st := range e.strategies {
		m := st.Multiplier(c)
		if m.Equal(one) {
			continue
		}
		running = RoundMoney(running.Mul(m))
		steps = append(steps, Step{Label: st.Name, Multiplier: m, Price: running})
	}
	return steps
}

// RoundMoney rounds half-up (away from zero) to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
