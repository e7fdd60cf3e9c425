package auth

import (
	"context"
	"testing"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/internal/routeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	docs map[string]*model.MachineData
}

func newMemStore(doc *model.MachineData) *memStore {
	return &memStore{docs: map[string]*model.MachineData{doc.MachineID: doc}}
}

func (m *memStore) Load(_ context.Context, machineID string) (*model.MachineData, error) {
	return m.docs[machineID], nil
}

func (m *memStore) Save(_ context.Context, data *model.MachineData) error {
	m.docs[data.MachineID] = data
	return nil
}

func connection(id string, priority int) *model.ProviderConnection {
	return &model.ProviderConnection{
		ID: id, Provider: "openai", IsActive: true, Priority: priority,
		APIKey: "key-" + id, Health: model.Health{Status: model.StatusActive},
	}
}

func TestSelectCredentialFillFirstPrefersLowestPriority(t *testing.T) {
	doc := &model.MachineData{
		MachineID: "m1",
		Providers: map[string]*model.ProviderConnection{
			"a": connection("a", 2),
			"b": connection("b", 1),
		},
		Settings: model.Settings{FallbackStrategy: model.StrategyFillFirst},
	}
	pool := NewPool(newMemStore(doc))

	chosen, err := pool.SelectCredential(context.Background(), "m1", "openai", "gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, "b", chosen.ID)
}

func TestSelectCredentialFillFirstFallsBackWhenExcluded(t *testing.T) {
	doc := &model.MachineData{
		MachineID: "m1",
		Providers: map[string]*model.ProviderConnection{
			"a": connection("a", 2),
			"b": connection("b", 1),
		},
		Settings: model.Settings{FallbackStrategy: model.StrategyFillFirst},
	}
	pool := NewPool(newMemStore(doc))

	chosen, err := pool.SelectCredential(context.Background(), "m1", "openai", "gpt-4o", "b")
	require.NoError(t, err)
	assert.Equal(t, "a", chosen.ID)
}

func TestSelectCredentialRoundRobinStaysStickyUntilLimit(t *testing.T) {
	doc := &model.MachineData{
		MachineID: "m1",
		Providers: map[string]*model.ProviderConnection{
			"a": connection("a", 1),
			"b": connection("b", 2),
		},
		Settings: model.Settings{FallbackStrategy: model.StrategyRoundRobin, StickyRoundRobinLimit: 2},
	}
	pool := NewPool(newMemStore(doc))
	ctx := context.Background()

	first, err := pool.SelectCredential(ctx, "m1", "openai", "gpt-4o", "")
	require.NoError(t, err)

	second, err := pool.SelectCredential(ctx, "m1", "openai", "gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "should stick to the same connection below the sticky limit")

	third, err := pool.SelectCredential(ctx, "m1", "openai", "gpt-4o", "")
	require.NoError(t, err)
	assert.NotEqual(t, second.ID, third.ID, "should switch once the sticky limit is reached")
}

func TestSelectCredentialNoEligibleReturnsNoCredentials(t *testing.T) {
	doc := &model.MachineData{
		MachineID: "m1",
		Providers: map[string]*model.ProviderConnection{},
	}
	pool := NewPool(newMemStore(doc))

	_, err := pool.SelectCredential(context.Background(), "m1", "openai", "gpt-4o", "")
	assert.Equal(t, routeerr.NoCredentials, err)
}

func TestSelectCredentialAllRateLimitedReturnsTypedError(t *testing.T) {
	conn := connection("a", 1)
	conn.Health.RateLimitedUntil = time.Now().Add(30 * time.Second)
	doc := &model.MachineData{
		MachineID: "m1",
		Providers: map[string]*model.ProviderConnection{"a": conn},
	}
	pool := NewPool(newMemStore(doc))

	_, err := pool.SelectCredential(context.Background(), "m1", "openai", "gpt-4o", "")
	var rl *routeerr.AllRateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "openai", rl.Provider)
	assert.GreaterOrEqual(t, rl.RetryAfterSeconds(), 1)
}

func TestMarkFailedAppliesExponentialBackoff(t *testing.T) {
	doc := &model.MachineData{
		MachineID: "m1",
		Providers: map[string]*model.ProviderConnection{"a": connection("a", 1)},
	}
	pool := NewPool(newMemStore(doc))
	ctx := context.Background()

	require.NoError(t, pool.MarkFailed(ctx, "m1", "a", "openai", "gpt-4o", 429, "rate limit exceeded"))
	firstCooldown := doc.Providers["a"].Health.RateLimitedUntil
	assert.True(t, firstCooldown.After(time.Now()))

	require.NoError(t, pool.MarkFailed(ctx, "m1", "a", "openai", "gpt-4o", 429, "rate limit exceeded"))
	secondCooldown := doc.Providers["a"].Health.RateLimitedUntil
	assert.True(t, secondCooldown.After(firstCooldown), "second 429 should back off further than the first")
}

func TestMarkSuccessClearsHealth(t *testing.T) {
	conn := connection("a", 1)
	conn.Health.Status = model.StatusUnavailable
	conn.Health.LastError = "boom"
	conn.Health.BackoffLevel = 3
	doc := &model.MachineData{MachineID: "m1", Providers: map[string]*model.ProviderConnection{"a": conn}}
	pool := NewPool(newMemStore(doc))

	require.NoError(t, pool.MarkSuccess(context.Background(), "m1", "a"))
	assert.Equal(t, model.StatusActive, doc.Providers["a"].Health.Status)
	assert.Empty(t, doc.Providers["a"].Health.LastError)
	assert.Equal(t, 0, doc.Providers["a"].Health.BackoffLevel)
}

func TestShouldFallbackClassification(t *testing.T) {
	assert.True(t, ShouldFallback(429, ""))
	assert.True(t, ShouldFallback(500, ""))
	assert.True(t, ShouldFallback(401, ""))
	assert.True(t, ShouldFallback(0, ""))
	assert.False(t, ShouldFallback(400, "bad request"))
}
