package workers

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	id     uuid.UUID
	values map[uint64]uint64
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		id:     uuid.New(),
		values: make(map[uint64]uint64),
	}
}

func (c *fakeConsumer) ConsumerID() uuid.UUID {
	return c.id
}

func (c *fakeConsumer) FulfillRandomness(requestID uint64, value uint64) {
	c.values[requestID] = value
}

func TestSecretStore(t *testing.T) {
	store := NewSecretStore()

	var secret [32]byte
	_, err := rand.Read(secret[:])
	require.NoError(t, err)

	hash := store.Put(secret)
	assert.Equal(t, 1, store.Size())

	got, ok := store.Take(hash)
	require.True(t, ok)
	assert.Equal(t, secret, got)
	assert.Equal(t, 0, store.Size())

	_, ok = store.Take(hash)
	assert.False(t, ok)
}

func TestRevealWorker_RevealsDueRequests(t *testing.T) {
	source := chain.NewSimulatedChain(chain.NewSimulatedChainOptions{BlockInterval: time.Second})
	provider := random.NewCommitRevealProvider(random.NewCommitRevealProviderOptions{Source: source})
	provider.AddRevealer("operator")

	store := NewSecretStore()
	var secret [32]byte
	secret[0] = 7
	require.NoError(t, provider.AddCommitments(store.Put(secret)))

	consumer := newFakeConsumer()
	provider.TrustedConsumers().Add(consumer.ConsumerID())

	requestID, err := provider.RequestRandomNumber(consumer, 42)
	require.NoError(t, err)

	worker := NewRevealWorker(NewRevealWorkerOptions{
		Provider: provider,
		Source:   source,
		Secrets:  store,
		Revealer: "operator",
		Interval: time.Millisecond,
	})

	// Not due yet: the bound block hash is not observable.
	worker.revealDue(context.Background())
	assert.Empty(t, consumer.values)
	assert.Equal(t, 1, store.Size())

	source.Advance()
	source.Advance()
	worker.revealDue(context.Background())

	require.Contains(t, consumer.values, requestID)
	assert.NotZero(t, consumer.values[requestID])
	assert.Equal(t, 0, store.Size())
	assert.Empty(t, provider.PendingRequests())

	// A second pass is a no-op.
	worker.revealDue(context.Background())
	assert.Len(t, consumer.values, 1)
}

func TestRevealWorker_MissingSecret(t *testing.T) {
	source := chain.NewSimulatedChain(chain.NewSimulatedChainOptions{BlockInterval: time.Second})
	provider := random.NewCommitRevealProvider(random.NewCommitRevealProviderOptions{Source: source})
	provider.AddRevealer("operator")

	var secret [32]byte
	secret[0] = 9
	orphan := NewSecretStore()
	require.NoError(t, provider.AddCommitments(orphan.Put(secret)))

	consumer := newFakeConsumer()
	provider.TrustedConsumers().Add(consumer.ConsumerID())
	_, err := provider.RequestRandomNumber(consumer, 1)
	require.NoError(t, err)

	worker := NewRevealWorker(NewRevealWorkerOptions{
		Provider: provider,
		Source:   source,
		Secrets:  NewSecretStore(),
		Revealer: "operator",
		Interval: time.Millisecond,
	})

	source.Advance()
	source.Advance()
	worker.revealDue(context.Background())

	// The request stays pending for a later store refresh.
	assert.Empty(t, consumer.values)
	assert.Len(t, provider.PendingRequests(), 1)
}
