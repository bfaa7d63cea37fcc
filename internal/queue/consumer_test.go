package queue

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandleMessageJournalsEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	journal := zap.New(core)

	body := []byte(`{"type":"BOOKING_CANCELLED","booking_id":4,"reference":"BK1A2B3C4D","user_id":9,
		"showtime_id":2,"status":"CANCELLED","seats":["A1","A2"],"total_amount":"472.00","currency":"INR",
		"reason":"changed plans","occurred_at":"2026-05-04T10:00:00Z"}`)
	require.NoError(t, HandleMessage(journal, body))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, BookingCancelled, entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, uint64(4), ctx["booking_id"])
	assert.Equal(t, "BK1A2B3C4D", ctx["reference"])
	assert.Equal(t, "changed plans", ctx["reason"])
	assert.Equal(t, "472.00 INR", ctx["total"])
	_, hasRefund := ctx["refund"]
	assert.False(t, hasRefund)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	journal := zap.NewNop()
	assert.Error(t, HandleMessage(journal, []byte("not json")))
	assert.Error(t, HandleMessage(journal, []byte(`{"type":""}`)))
}

func TestSeatRoutingKey(t *testing.T) {
	assert.Equal(t, "showtime.42", SeatRoutingKey(42))
}

func TestNewJournalWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "booking.log")
	j, err := NewJournal(path)
	require.NoError(t, err)
	j.Info("hello")
	_ = j.Sync()
	assert.FileExists(t, path)
}
