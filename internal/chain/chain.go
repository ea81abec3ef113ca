// Package chain supplies the logical block clock of the escrow host: a
// monotonically non-decreasing height and the block time it started at.
// Record key ids are block heights, so two stores inside one block collide.
package chain

import (
	"time"

	"github.com/atinyakov/keyescrow/internal/models"
)

// Block identifies the current block.
type Block struct {
	Height uint64
	Time   models.Timestamp
}

// Source reports the current block.
type Source interface {
	Current() Block
}

// Clock abstracts wall time for testability.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// IntervalSource cuts wall time into fixed-length blocks counted from a
// genesis instant. The first block has height 1; height 0 is never issued.
type IntervalSource struct {
	genesis  time.Time
	interval time.Duration
	clock    Clock
}

// NewIntervalSource returns an IntervalSource. interval must be positive.
func NewIntervalSource(genesis time.Time, interval time.Duration, clock Clock) *IntervalSource {
	if interval <= 0 {
		panic("chain: block interval must be positive")
	}
	return &IntervalSource{genesis: genesis, interval: interval, clock: clock}
}

// Current returns the block containing the clock's current time. Times
// before genesis belong to block 1.
func (s *IntervalSource) Current() Block {
	elapsed := s.clock.Now().Sub(s.genesis)
	if elapsed < 0 {
		elapsed = 0
	}
	n := uint64(elapsed / s.interval)
	return Block{
		Height: n + 1,
		Time:   models.TimestampFromTime(s.genesis.Add(time.Duration(n) * s.interval)),
	}
}

// Fixed is a Source that always reports the same block.
type Fixed Block

// Current returns the fixed block.
func (f Fixed) Current() Block { return Block(f) }
