package random

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/log"
)

var (
	// ErrBadSecret is returned when a revealed secret does not hash to
	// the committed value.
	ErrBadSecret = errors.New("secret does not match commitment")
	// ErrUntrustedRevealer is returned when the revealing party is not
	// in the trusted set.
	ErrUntrustedRevealer = errors.New("untrusted revealer")
	// ErrDuplicateCommitment is returned when a hash was committed before.
	ErrDuplicateCommitment = errors.New("duplicate commitment")
)

const (
	// revealMinDelta: the hash of block requestBlock+1 is only stable
	// once the chain has moved past it.
	revealMinDelta = 2
	// revealMaxDelta: past this many blocks the +1 block hash is no
	// longer queryable on most chains.
	revealMaxDelta = 257
)

type crRequest struct {
	id        uint64
	hash      [32]byte
	consumer  Consumer
	seed      uint64
	block     uint64
	fulfilled bool
}

// CommitRevealProvider draws randomness from pre-committed secret
// hashes combined with a future block hash. A trusted off-chain party
// commits hashes up front; each request binds one unused hash to the
// caller, the caller's seed, and the current block. Revealing the
// preimage later produces the random value and delivers it to the
// bound consumer.
type CommitRevealProvider struct {
	lock      sync.Mutex
	source    chain.Source
	trusted   *TrustedConsumers
	revealers map[string]bool
	unused    [][32]byte
	committed map[[32]byte]bool
	requests  map[uint64]*crRequest
	nextID    uint64
}

type NewCommitRevealProviderOptions struct {
	Source           chain.Source
	TrustedConsumers *TrustedConsumers
}

func NewCommitRevealProvider(opts NewCommitRevealProviderOptions) *CommitRevealProvider {
	trusted := opts.TrustedConsumers
	if trusted == nil {
		trusted = NewTrustedConsumers()
	}
	return &CommitRevealProvider{
		source:    opts.Source,
		trusted:   trusted,
		revealers: make(map[string]bool),
		committed: make(map[[32]byte]bool),
		requests:  make(map[uint64]*crRequest),
	}
}

// TrustedConsumers exposes the access-control table for administration.
func (p *CommitRevealProvider) TrustedConsumers() *TrustedConsumers {
	return p.trusted
}

// AddRevealer marks a party as allowed to reveal secrets.
func (p *CommitRevealProvider) AddRevealer(name string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.revealers[name] = true
}

// AddCommitments appends hash commitments to the unused pool. A hash
// can only ever be committed once.
func (p *CommitRevealProvider) AddCommitments(hashes ...[32]byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, h := range hashes {
		if p.committed[h] {
			return fmt.Errorf("%w: %x", ErrDuplicateCommitment, h[:8])
		}
	}
	for _, h := range hashes {
		p.committed[h] = true
		p.unused = append(p.unused, h)
	}
	return nil
}

// UnusedCommitments returns how many committed hashes remain available.
func (p *CommitRevealProvider) UnusedCommitments() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.unused)
}

func (p *CommitRevealProvider) IsReady() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.unused) > 0
}

// RequestRandomNumber pops one unused commitment and binds it to the
// caller, seed and current block. An empty pool means no request is
// made at all.
func (p *CommitRevealProvider) RequestRandomNumber(caller Consumer, seed uint64) (uint64, error) {
	if !p.trusted.IsTrusted(caller.ConsumerID()) {
		return 0, fmt.Errorf("%w: %s", ErrUntrustedConsumer, caller.ConsumerID())
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.unused) == 0 {
		return 0, ErrNotReady
	}
	hash := p.unused[0]
	p.unused = p.unused[1:]

	p.nextID++
	req := &crRequest{
		id:       p.nextID,
		hash:     hash,
		consumer: caller,
		seed:     seed,
		block:    p.source.CurrentBlock(),
	}
	p.requests[req.id] = req

	return req.id, nil
}

func (p *CommitRevealProvider) CheckRequestState(requestID uint64) RequestState {
	p.lock.Lock()
	defer p.lock.Unlock()

	req, ok := p.requests[requestID]
	if !ok {
		return RequestInvalid
	}
	if req.fulfilled {
		return RequestFinished
	}
	if p.source.CurrentBlock() > req.block+revealMaxDelta {
		return RequestExpired
	}
	return RequestPending
}

// PendingRequest describes an unfulfilled request for reveal scheduling.
type PendingRequest struct {
	ID    uint64
	Hash  [32]byte
	Block uint64
}

// PendingRequests lists unfulfilled requests in no particular order.
func (p *CommitRevealProvider) PendingRequests() []PendingRequest {
	p.lock.Lock()
	defer p.lock.Unlock()

	var out []PendingRequest
	for _, req := range p.requests {
		if req.fulfilled {
			continue
		}
		out = append(out, PendingRequest{ID: req.id, Hash: req.hash, Block: req.block})
	}
	return out
}

// Reveal verifies the secret against the bound commitment and delivers
// the combined randomness to the bound consumer. Revealing outside the
// stable window still fires the callback, with value 0 signaling a
// failed draw; the reveal itself does not fail.
func (p *CommitRevealProvider) Reveal(revealer string, requestID uint64, secret [32]byte) error {
	p.lock.Lock()

	if !p.revealers[revealer] {
		p.lock.Unlock()
		return fmt.Errorf("%w: %s", ErrUntrustedRevealer, revealer)
	}
	req, ok := p.requests[requestID]
	if !ok {
		p.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
	}
	if req.fulfilled {
		p.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyFulfilled, requestID)
	}
	if sha256.Sum256(secret[:]) != req.hash {
		p.lock.Unlock()
		return fmt.Errorf("%w: request %d", ErrBadSecret, requestID)
	}

	var value uint64
	current := p.source.CurrentBlock()
	if current >= req.block+revealMinDelta && current <= req.block+revealMaxDelta {
		if blockHash, ok := p.source.BlockHash(req.block + 1); ok {
			value = word(secret) ^ req.seed ^ word(blockHash)
		}
	}
	if value == 0 {
		log.Warn("Randomness request %d revealed outside the stable window, delivering failed draw", requestID)
	}

	req.fulfilled = true
	consumer := req.consumer
	p.lock.Unlock()

	// Delivered outside the provider lock: the consumer settles the bet
	// under its own house lock.
	consumer.FulfillRandomness(requestID, value)
	return nil
}

func word(b [32]byte) uint64 {
	return binary.BigEndian.Uint64(b[:8])
}
