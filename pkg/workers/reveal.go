package workers

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"time"

	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/random"
)

// revealDelayBlocks is how many blocks after a request the bound block
// hash becomes observable, making the reveal safe to send.
const revealDelayBlocks = 2

// SecretStore holds the operator's unrevealed secrets keyed by their
// commitment hash.
type SecretStore struct {
	lock    sync.Mutex
	secrets map[[32]byte][32]byte
}

func NewSecretStore() *SecretStore {
	return &SecretStore{
		secrets: make(map[[32]byte][32]byte),
	}
}

// Put stores a secret and returns its commitment hash.
func (s *SecretStore) Put(secret [32]byte) [32]byte {
	hash := sha256.Sum256(secret[:])
	s.lock.Lock()
	s.secrets[hash] = secret
	s.lock.Unlock()
	return hash
}

// Take removes and returns the secret for a commitment hash.
func (s *SecretStore) Take(hash [32]byte) ([32]byte, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	secret, ok := s.secrets[hash]
	if ok {
		delete(s.secrets, hash)
	}
	return secret, ok
}

func (s *SecretStore) Size() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.secrets)
}

type RevealWorker struct {
	provider *random.CommitRevealProvider
	source   chain.Source
	secrets  *SecretStore
	revealer string
	interval time.Duration
}

type NewRevealWorkerOptions struct {
	Provider *random.CommitRevealProvider
	Source   chain.Source
	Secrets  *SecretStore
	Revealer string
	Interval time.Duration
}

// NewRevealWorker creates a new RevealWorker.
// The worker polls the provider for requests whose bound block hash has
// become observable and reveals the matching secret from the store.
func NewRevealWorker(opts NewRevealWorkerOptions) *RevealWorker {
	return &RevealWorker{
		provider: opts.Provider,
		source:   opts.Source,
		secrets:  opts.Secrets,
		revealer: opts.Revealer,
		interval: opts.Interval,
	}
}

func (w *RevealWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.revealDue(ctx)
		}
	}
}

func (w *RevealWorker) revealDue(_ context.Context) {
	current := w.source.CurrentBlock()
	for _, request := range w.provider.PendingRequests() {
		if current < request.Block+revealDelayBlocks {
			continue
		}
		secret, ok := w.secrets.Take(request.Hash)
		if !ok {
			log.Error("No secret stored for request %d, commitment %x", request.ID, request.Hash[:8])
			continue
		}
		if err := w.provider.Reveal(w.revealer, request.ID, secret); err != nil {
			if !errors.Is(err, random.ErrAlreadyFulfilled) {
				log.Error("Failed to reveal request %d: %v", request.ID, err)
			}
			continue
		}
		log.Debug("Revealed request %d at block %d", request.ID, current)
	}
}
