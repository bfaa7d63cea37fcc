package seatlock

import (
	"context"
	"sort"
	"sync"
)

const stripeCount = 512

// keyLocks serializes work per (showtime, seat) inside this process using a
// fixed set of striped mutexes. Stripes are always taken in ascending
// order, so overlapping multi-seat requests cannot deadlock.
type keyLocks struct {
	stripes [stripeCount]sync.Mutex
}

func stripe(showtimeID, seatID uint64) int {
	h := showtimeID*0x9E3779B97F4A7C15 ^ seatID*0xC2B2AE3D27D4EB4F
	h ^= h >> 29
	return int(h % stripeCount)
}

// lock acquires every stripe covering the seats and returns the release func.
func (k *keyLocks) lock(showtimeID uint64, seatIDs []uint64) func() {
	seen := make(map[int]bool, len(seatIDs))
	idx := make([]int, 0, len(seatIDs))
	for _, id := range seatIDs {
		s := stripe(showtimeID, id)
		if !seen[s] {
			seen[s] = true
			idx = append(idx, s)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		k.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			k.stripes[idx[j]].Unlock()
		}
	}
}

type guardKey struct{}

// guard records the seats of one showtime whose stripes the context's
// caller holds.
type guard struct {
	showtimeID uint64
	seats      map[uint64]bool
}

func guardFrom(ctx context.Context, showtimeID uint64) *guard {
	if g, ok := ctx.Value(guardKey{}).(*guard); ok && g.showtimeID == showtimeID {
		return g
	}
	return nil
}

func (g *guard) covers(seatID uint64) bool { return g.seats[seatID] }

func (g *guard) coversAll(seatIDs []uint64) bool {
	for _, id := range seatIDs {
		if !g.seats[id] {
			return false
		}
	}
	return true
}

// lockSeats takes the stripes of seatIDs and returns a context recording
// them. Callers must not hold a store transaction.
func (k *keyLocks) lockSeats(ctx context.Context, showtimeID uint64, seatIDs []uint64) (context.Context, func()) {
	g := &guard{showtimeID: showtimeID, seats: make(map[uint64]bool, len(seatIDs))}
	for _, id := range seatIDs {
		g.seats[id] = true
	}
	unlock := k.lock(showtimeID, seatIDs)
	return context.WithValue(ctx, guardKey{}, g), unlock
}
