package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/namisoft/coinflip/pkg/log"
)

// SimulatedChain produces blocks on a fixed interval and keeps the
// trailing HashWindow of block hashes. Each hash chains over the previous
// one so reorderings are detectable in tests.
type SimulatedChain struct {
	lock     sync.RWMutex
	height   uint64
	hashes   map[uint64][32]byte
	interval time.Duration
}

type NewSimulatedChainOptions struct {
	BlockInterval time.Duration
}

func NewSimulatedChain(opts NewSimulatedChainOptions) *SimulatedChain {
	c := &SimulatedChain{
		hashes:   make(map[uint64][32]byte),
		interval: opts.BlockInterval,
	}
	c.hashes[0] = c.sealHash(0, [32]byte{})
	return c
}

// Start produces blocks until the context is canceled.
func (c *SimulatedChain) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.Advance()
			log.Trace("Produced block %d", n)
		}
	}
}

// Advance seals one block and returns the new height.
func (c *SimulatedChain) Advance() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	prev := c.hashes[c.height]
	c.height++
	c.hashes[c.height] = c.sealHash(c.height, prev)
	if c.height > HashWindow {
		delete(c.hashes, c.height-HashWindow-1)
	}
	return c.height
}

// AdvanceTo seals blocks until the chain reaches the given height.
func (c *SimulatedChain) AdvanceTo(height uint64) {
	for c.CurrentBlock() < height {
		c.Advance()
	}
}

func (c *SimulatedChain) CurrentBlock() uint64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.height
}

func (c *SimulatedChain) BlockHash(n uint64) ([32]byte, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if n > c.height {
		return [32]byte{}, false
	}
	hash, ok := c.hashes[n]
	return hash, ok
}

func (c *SimulatedChain) sealHash(height uint64, prev [32]byte) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h := sha256.New()
	h.Write(prev[:])
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
