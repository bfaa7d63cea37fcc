package config

// settings.go holds the runtime tunables of the booking engine: lock
// duration, seat limits, pricing multipliers, tax rate and cancellation
// windows. Unlike Config, which is read once from the environment, a
// Settings value may be changed while the process runs (admin endpoint), so
// every consumer reads through the typed getters on each use.

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
)

// Setting keys.
const (
	KeyLockTimeoutMinutes   = "seat.lock.timeout.minutes"
	KeyMaxSeatsPerBooking   = "seat.max.per.booking"
	KeyMaxActiveBookings    = "booking.max.active"
	KeyGSTRate              = "pricing.gst.rate"
	KeyPeakMultiplier       = "pricing.peak.multiplier"
	KeyPeakStart            = "pricing.peak.start"
	KeyPeakEnd              = "pricing.peak.end"
	KeyMorningDiscount      = "pricing.morning.discount"
	KeyMorningStart         = "pricing.morning.start"
	KeyMorningEnd           = "pricing.morning.end"
	KeyWeekendMultiplier    = "pricing.weekend.multiplier"
	KeyHolidayMultiplier    = "pricing.holiday.multiplier"
	KeyHolidays             = "pricing.holidays"
	KeyHighDemandThreshold  = "pricing.high.demand.threshold"
	KeyHighDemandMultiplier = "pricing.high.demand.multiplier"
	KeyLowDemandThreshold   = "pricing.low.demand.threshold"
	KeyLowDemandMultiplier  = "pricing.low.demand.multiplier"
	KeyPricingTimezone      = "pricing.timezone"
	KeyFullRefundHours      = "booking.cancellation.full.refund.hours"
	KeyHalfRefundHours      = "booking.cancellation.half.refund.hours"
	KeyCurrency             = "app.currency"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindDecimal
	kindClock
	kindDates
	kindLocation
)

type setting struct {
	def  string
	kind kind
}

var catalogue = map[string]setting{
	KeyLockTimeoutMinutes:   {"10", kindInt},
	KeyMaxSeatsPerBooking:   {"10", kindInt},
	KeyMaxActiveBookings:    {"5", kindInt},
	KeyGSTRate:              {"0.18", kindDecimal},
	KeyPeakMultiplier:       {"1.30", kindDecimal},
	KeyPeakStart:            {"18:00", kindClock},
	KeyPeakEnd:              {"22:00", kindClock},
	KeyMorningDiscount:      {"0.80", kindDecimal},
	KeyMorningStart:         {"08:00", kindClock},
	KeyMorningEnd:           {"12:00", kindClock},
	KeyWeekendMultiplier:    {"1.20", kindDecimal},
	KeyHolidayMultiplier:    {"1.40", kindDecimal},
	KeyHolidays:             {"", kindDates},
	KeyHighDemandThreshold:  {"0.70", kindDecimal},
	KeyHighDemandMultiplier: {"1.25", kindDecimal},
	KeyLowDemandThreshold:   {"0.30", kindDecimal},
	KeyLowDemandMultiplier:  {"0.90", kindDecimal},
	KeyPricingTimezone:      {"UTC", kindLocation},
	KeyFullRefundHours:      {"24", kindInt},
	KeyHalfRefundHours:      {"6", kindInt},
	KeyCurrency:             {"INR", kindString},
}

// ErrUnknownSetting is returned by Set for keys outside the catalogue.
var ErrUnknownSetting = errs.New("unknown setting")

// TimeOfDay is a wall-clock time without a date, e.g. the start of the
// evening peak window.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Minutes returns the number of minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// Settings is the process-wide store of tunables. Construct it once in
// main and pass the pointer to every component that needs it.
type Settings struct {
	mu     sync.RWMutex
	values map[string]string
	log    *zap.Logger
}

// NewSettings returns a store seeded with the built-in defaults.
func NewSettings(log *zap.Logger) *Settings {
	if log == nil {
		log = zap.NewNop()
	}
	values := make(map[string]string, len(catalogue))
	for k, s := range catalogue {
		values[k] = s.def
	}
	return &Settings{values: values, log: log}
}

// EnvName maps a setting key to its environment override, e.g.
// "seat.lock.timeout.minutes" -> "SETTINGS_SEAT_LOCK_TIMEOUT_MINUTES".
func EnvName(key string) string {
	return "SETTINGS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ApplyEnv overrides defaults with SETTINGS_* variables found through lookup
// (normally os.LookupEnv). The first invalid value aborts with an error.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, key := range s.Keys() {
		v, ok := lookup(EnvName(key))
		if !ok {
			continue
		}
		if err := s.Set(key, v); err != nil {
			return err
		}
	}
	return nil
}

// Set validates value against the key's type and stores it.
func (s *Settings) Set(key, value string) error {
	def, ok := catalogue[key]
	if !ok {
		return errs.Wrapf(ErrUnknownSetting, "%s", key)
	}
	value = strings.TrimSpace(value)
	if err := check(def.kind, value); err != nil {
		return errs.Mark(errs.Wrapf(err, "invalid value %q for %s", value, key), errs.ErrInvalidInput)
	}
	s.mu.Lock()
	old := s.values[key]
	s.values[key] = value
	s.mu.Unlock()
	s.log.Info("setting updated", zap.String("key", key), zap.String("old", old), zap.String("new", value))
	return nil
}

// Keys lists every known key in sorted order.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(catalogue))
	for k := range catalogue {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot copies the current values.
func (s *Settings) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Settings) raw(key string) string {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return catalogue[key].def
	}
	return v
}

func (s *Settings) String(key string) string { return s.raw(key) }

func (s *Settings) Int(key string) int {
	n, err := strconv.Atoi(s.raw(key))
	if err != nil {
		n, _ = strconv.Atoi(catalogue[key].def)
	}
	return n
}

func (s *Settings) Decimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(s.raw(key))
	if err != nil {
		d, _ = decimal.NewFromString(catalogue[key].def)
	}
	return d
}

func (s *Settings) ClockTime(key string) TimeOfDay {
	t, err := parseClock(s.raw(key))
	if err != nil {
		t, _ = parseClock(catalogue[key].def)
	}
	return t
}

// Dates returns the set of calendar dates (YYYY-MM-DD) stored under key.
func (s *Settings) Dates(key string) map[string]bool {
	out := make(map[string]bool)
	for _, d := range splitList(s.raw(key)) {
		out[d] = true
	}
	return out
}

func (s *Settings) Location(key string) *time.Location {
	loc, err := time.LoadLocation(s.raw(key))
	if err != nil {
		return time.UTC
	}
	return loc
}

// LockDuration is the absolute lifetime of a seat hold.
func (s *Settings) LockDuration() time.Duration {
	return time.Duration(s.Int(KeyLockTimeoutMinutes)) * time.Minute
}

func check(k kind, v string) error {
	switch k {
	case kindInt:
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return errs.New("must not be negative")
		}
	case kindDecimal:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		if d.IsNegative() {
			return errs.New("must not be negative")
		}
	case kindClock:
		_, err := parseClock(v)
		return err
	case kindDates:
		for _, d := range splitList(v) {
			if _, err := time.Parse("2006-01-02", d); err != nil {
				return err
			}
		}
	case kindLocation:
		_, err := time.LoadLocation(v)
		return err
	}
	return nil
}

func parseClock(v string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
