package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/cinema-booking-engine/internal/config"
)

// Context is everything a strategy may look at when pricing one seat.
type Context struct {
	BasePrice     decimal.Decimal
	Occupancy     decimal.Decimal // fraction of seats confirmed, 0..1
	ShowTime      time.Time       // in the pricing time zone
	Weekend       bool
	Holiday       bool
	DaysUntilShow int
}

// Strategy returns a multiplier for the given context. A multiplier of
// exactly one means "not applicable" and is left out of the audit trail.
type Strategy struct {
	Name       string
	Multiplier func(Context) decimal.Decimal
}

// Strategy names as they appear in breakdowns.
const (
	PeakHour       = "PEAK_HOUR"
	WeekendHoliday = "WEEKEND"
	DemandBased    = "DEMAND_BASED"
)

// PeakHourStrategy raises the price inside the evening window and lowers
// it inside the morning window. Both windows include their end points.
func PeakHourStrategy(s *config.Settings) Strategy {
	return Strategy{Name: PeakHour, Multiplier: func(c Context) decimal.Decimal {
		secs := c.ShowTime.Hour()*3600 + c.ShowTime.Minute()*60 + c.ShowTime.Second()
		if within(secs, s.ClockTime(config.KeyPeakStart), s.ClockTime(config.KeyPeakEnd)) {
			return s.Decimal(config.KeyPeakMultiplier)
		}
		if within(secs, s.ClockTime(config.KeyMorningStart), s.ClockTime(config.KeyMorningEnd)) {
			return s.Decimal(config.KeyMorningDiscount)
		}
		return decimal.NewFromInt(1)
	}}
}

// WeekendHolidayStrategy applies the holiday multiplier on configured
// holidays and the weekend multiplier on Saturdays and Sundays. A holiday
// that falls on a weekend gets the holiday multiplier only.
func WeekendHolidayStrategy(s *config.Settings) Strategy {
	return Strategy{Name: WeekendHoliday, Multiplier: func(c Context) decimal.Decimal {
		switch {
		case c.Holiday:
			return s.Decimal(config.KeyHolidayMultiplier)
		case c.Weekend:
			return s.Decimal(config.KeyWeekendMultiplier)
		}
		return decimal.NewFromInt(1)
	}}
}

// DemandStrategy charges more when the showtime is nearly full and less
// when it is mostly empty.
func DemandStrategy(s *config.Settings) Strategy {
	return Strategy{Name: DemandBased, Multiplier: func(c Context) decimal.Decimal {
		if c.Occupancy.GreaterThanOrEqual(s.Decimal(config.KeyHighDemandThreshold)) {
			return s.Decimal(config.KeyHighDemandMultiplier)
		}
		if c.Occupancy.LessThan(s.Decimal(config.KeyLowDemandThreshold)) {
			return s.Decimal(config.KeyLowDemandMultiplier)
		}
		return decimal.NewFromInt(1)
	}}
}

func within(secs int, from, to config.TimeOfDay) bool {
	return secs >= from.Minutes()*60 && secs <= to.Minutes()*60
}
