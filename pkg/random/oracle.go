package random

import (
	"errors"
	"fmt"
	"sync"

	"github.com/namisoft/coinflip/pkg/log"
)

// ErrInsufficientReserve is returned when the funded fee reserve cannot
// cover another oracle request.
var ErrInsufficientReserve = errors.New("insufficient fee reserve")

// OracleClient is the external verifiable-randomness service. It
// assigns a request id synchronously and later delivers the value back
// through OracleProvider.FulfillOracleRandomness.
type OracleClient interface {
	RequestRandomness(seed uint64) (uint64, error)
}

type oracleRequest struct {
	consumer  Consumer
	fulfilled bool
}

// OracleProvider is a thin correlator over an external randomness
// oracle: it pays a fixed per-request fee from a funded reserve, maps
// oracle request ids back to the original caller, and re-dispatches the
// fulfillment callback.
type OracleProvider struct {
	lock          sync.Mutex
	client        OracleClient
	trusted       *TrustedConsumers
	feePerRequest int64
	reserve       int64
	requests      map[uint64]*oracleRequest
}

type NewOracleProviderOptions struct {
	Client           OracleClient
	TrustedConsumers *TrustedConsumers
	FeePerRequest    int64
}

func NewOracleProvider(opts NewOracleProviderOptions) *OracleProvider {
	trusted := opts.TrustedConsumers
	if trusted == nil {
		trusted = NewTrustedConsumers()
	}
	return &OracleProvider{
		client:        opts.Client,
		trusted:       trusted,
		feePerRequest: opts.FeePerRequest,
		requests:      make(map[uint64]*oracleRequest),
	}
}

// TrustedConsumers exposes the access-control table for administration.
func (p *OracleProvider) TrustedConsumers() *TrustedConsumers {
	return p.trusted
}

// DepositReserve funds the per-request fee reserve.
func (p *OracleProvider) DepositReserve(amount int64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.reserve += amount
}

// Reserve returns the remaining fee reserve.
func (p *OracleProvider) Reserve() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.reserve
}

func (p *OracleProvider) IsReady() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.reserve >= p.feePerRequest
}

func (p *OracleProvider) RequestRandomNumber(caller Consumer, seed uint64) (uint64, error) {
	if !p.trusted.IsTrusted(caller.ConsumerID()) {
		return 0, fmt.Errorf("%w: %s", ErrUntrustedConsumer, caller.ConsumerID())
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.reserve < p.feePerRequest {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientReserve, p.reserve, p.feePerRequest)
	}

	requestID, err := p.client.RequestRandomness(seed)
	if err != nil {
		return 0, fmt.Errorf("oracle request failed: %w", err)
	}
	if requestID == 0 {
		return 0, ErrNotReady
	}

	p.reserve -= p.feePerRequest
	p.requests[requestID] = &oracleRequest{consumer: caller}
	return requestID, nil
}

func (p *OracleProvider) CheckRequestState(requestID uint64) RequestState {
	p.lock.Lock()
	defer p.lock.Unlock()

	req, ok := p.requests[requestID]
	if !ok {
		return RequestInvalid
	}
	if req.fulfilled {
		return RequestFinished
	}
	return RequestPending
}

// FulfillOracleRandomness is called by the oracle transport when the
// value arrives. Unknown or already-fulfilled ids are dropped rather
// than failed: the oracle may redeliver.
func (p *OracleProvider) FulfillOracleRandomness(requestID uint64, value uint64) {
	p.lock.Lock()

	req, ok := p.requests[requestID]
	if !ok || req.fulfilled {
		p.lock.Unlock()
		log.Debug("Dropping oracle fulfillment for request %d", requestID)
		return
	}
	req.fulfilled = true
	consumer := req.consumer
	p.lock.Unlock()

	consumer.FulfillRandomness(requestID, value)
}
