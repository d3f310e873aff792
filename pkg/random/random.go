package random

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUntrustedConsumer is returned when the caller is not in the
	// trusted-consumer table.
	ErrUntrustedConsumer = errors.New("untrusted consumer")
	// ErrNotReady is returned when the provider has no randomness
	// capacity for a new request.
	ErrNotReady = errors.New("provider not ready")
	// ErrUnknownRequest is returned for request ids with no binding.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrAlreadyFulfilled is returned when a request was already revealed.
	ErrAlreadyFulfilled = errors.New("request already fulfilled")
)

// RequestState is the observable lifecycle of a randomness request.
type RequestState int

const (
	RequestInvalid RequestState = iota
	RequestPending
	RequestFinished
	RequestExpired
)

func (s RequestState) String() string {
	switch s {
	case RequestInvalid:
		return "invalid"
	case RequestPending:
		return "pending"
	case RequestFinished:
		return "finished"
	case RequestExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Consumer receives the fulfillment callback for requests it made. The
// callback is always delivered to the original caller, never a third
// party. A value of 0 signals a failed draw, not valid randomness.
type Consumer interface {
	ConsumerID() uuid.UUID
	FulfillRandomness(requestID uint64, value uint64)
}

// Provider hands out randomness request ids and later delivers exactly
// one fulfillment callback per id. Request ids are never 0 and never
// reused.
type Provider interface {
	IsReady() bool
	RequestRandomNumber(caller Consumer, seed uint64) (uint64, error)
	CheckRequestState(requestID uint64) RequestState
}

// TrustedConsumers is the access-control table gating RequestRandomNumber.
// Consumers are added individually by the registry admin so untrusted
// callers cannot drain fee reserves or pollute request state.
type TrustedConsumers struct {
	lock sync.RWMutex
	ids  map[uuid.UUID]bool
}

func NewTrustedConsumers() *TrustedConsumers {
	return &TrustedConsumers{ids: make(map[uuid.UUID]bool)}
}

func (t *TrustedConsumers) Add(id uuid.UUID) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.ids[id] = true
}

func (t *TrustedConsumers) Remove(id uuid.UUID) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.ids, id)
}

func (t *TrustedConsumers) IsTrusted(id uuid.UUID) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.ids[id]
}
