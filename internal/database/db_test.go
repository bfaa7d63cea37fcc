package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	stmts := Statements()
	require.Len(t, stmts, 7)

	tables := []string{"users", "seats", "showtimes", "seat_holds", "bookings", "booking_seats", "booking_addons"}
	for i, table := range tables {
		assert.True(t, strings.HasPrefix(stmts[i], "CREATE TABLE IF NOT EXISTS "+table+" ("), stmts[i])
		assert.NotContains(t, stmts[i], "--")
	}
	assert.Contains(t, stmts[3], "UNIQUE KEY uq_seat_holds_active (showtime_id, seat_id, active_slot)")
}
