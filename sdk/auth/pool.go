package auth

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/internal/routeerr"
	"github.com/kwanLeeFrmVi/9router/internal/store"
	log "github.com/sirupsen/logrus"
)

// ErrNoneEligible is returned by a Selector when candidates is empty.
var ErrNoneEligible = errors.New("auth: no eligible candidates")

// multiBucketProviders enforce rate limits per model family rather than per
// account; a 429 on one model only locks that model on the connection.
var multiBucketProviders = map[string]struct{}{
	"antigravity": {},
}

// IsMultiBucket reports whether provider splits quota per model.
func IsMultiBucket(provider string) bool {
	_, ok := multiBucketProviders[strings.ToLower(provider)]
	return ok
}

// Pool selects and tracks the health of provider connections for one machine document.
type Pool struct {
	store  store.MachineStore
	locks  *machineMutexes
	models *modelLocks
}

// NewPool constructs a credential pool backed by store.
func NewPool(s store.MachineStore) *Pool {
	return &Pool{store: s, locks: newMachineMutexes(), models: newModelLocks()}
}

// AllRateLimitedError re-exports routeerr's type for callers in this package's API surface.
type AllRateLimitedError = routeerr.AllRateLimitedError

// SelectCredential implements the selection contract from the credential pool
// design: resolve alias, filter eligible connections, choose one according to
// the configured strategy, and persist the recency update before returning.
func (p *Pool) SelectCredential(ctx context.Context, machineID, provider, reqModel string, excludeID string) (*model.ProviderConnection, error) {
	mu := p.locks.forMachine(machineID)
	mu.Lock()
	defer mu.Unlock()

	data, err := p.store.Load(ctx, machineID)
	if err != nil {
		return nil, err
	}

	conns := data.ConnectionsForProvider(provider)
	if len(conns) == 0 {
		return nil, routeerr.NoCredentials
	}

	now := time.Now()
	eligible := make([]*model.ProviderConnection, 0, len(conns))
	var (
		cooldownCount int
		earliest      time.Time
		modelOnlyLock bool
		lastErr       string
		lastErrAt     time.Time
	)
	for _, c := range conns {
		if c.ID == excludeID {
			continue
		}
		if !c.IsActive {
			continue
		}
		if c.Health.RateLimitedUntil.After(now) {
			cooldownCount++
			if earliest.IsZero() || c.Health.RateLimitedUntil.Before(earliest) {
				earliest = c.Health.RateLimitedUntil
			}
			if c.Health.LastErrorAt.After(lastErrAt) {
				lastErrAt = c.Health.LastErrorAt
				lastErr = c.Health.LastError
			}
			continue
		}
		if IsMultiBucket(c.Provider) && reqModel != "" && p.models.locked(c.ID, reqModel, now) {
			modelOnlyLock = true
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		if cooldownCount > 0 && !earliest.IsZero() {
			return nil, &routeerr.AllRateLimitedError{
				Provider: provider, Model: reqModel,
				RetryAfter: maxDuration(earliest.Sub(now), 0),
				LastError:  lastErr, LastErrorAt: lastErrAt,
			}
		}
		if modelOnlyLock {
			return nil, &routeerr.AllRateLimitedError{
				Provider: provider, Model: reqModel, RetryAfter: 60 * time.Second,
			}
		}
		return nil, routeerr.NoCredentials
	}

	strategy := data.Settings.FallbackStrategy
	var selector Selector = FillFirstSelector{}
	if strategy == model.StrategyRoundRobin {
		selector = RoundRobinSelector{}
	}
	chosen, err := selector.Pick(ctx, eligible, data.Settings.StickyRoundRobinLimit)
	if err != nil {
		return nil, routeerr.NoCredentials
	}

	p.recordSelection(data, chosen, now)
	if err := p.store.Save(ctx, data); err != nil {
		log.WithError(err).Warn("auth: failed to persist recency update")
	}
	clone := *chosen
	return &clone, nil
}

// recordSelection persists the recency update for the chosen connection.
// Under round-robin, reuse of the already-current connection increments
// ConsecutiveUseCount; switching to a different connection resets it to 1.
func (p *Pool) recordSelection(data *model.MachineData, chosen *model.ProviderConnection, now time.Time) {
	wasCurrent := isMostRecent(data, chosen)
	if data.Settings.FallbackStrategy == model.StrategyRoundRobin && !wasCurrent {
		chosen.Usage.ConsecutiveUseCount = 1
	} else {
		chosen.Usage.ConsecutiveUseCount++
	}
	chosen.Usage.LastUsedAt = now
}

// isMostRecent reports whether chosen already held the most recent LastUsedAt
// among its provider siblings, i.e. whether this selection reuses the current
// connection rather than switching to a different one.
func isMostRecent(data *model.MachineData, chosen *model.ProviderConnection) bool {
	for _, c := range data.ConnectionsForProvider(chosen.Provider) {
		if c.ID != chosen.ID && !c.Usage.LastUsedAt.Before(chosen.Usage.LastUsedAt) {
			return false
		}
	}
	return true
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}

// MarkFailed classifies the failure via the fallback policy and updates
// connection health accordingly (§4.3). For multi-bucket providers a 429
// places an in-memory per-model lock instead of mutating the stored status.
func (p *Pool) MarkFailed(ctx context.Context, machineID, connID, provider, reqModel string, statusCode int, errText string) error {
	mu := p.locks.forMachine(machineID)
	mu.Lock()
	defer mu.Unlock()

	data, err := p.store.Load(ctx, machineID)
	if err != nil {
		return err
	}
	conn, ok := data.Providers[connID]
	if !ok || conn == nil {
		return nil
	}

	decision := classifyFailure(statusCode, errText, conn.Health.BackoffLevel)
	now := time.Now()

	if IsMultiBucket(provider) && decision.treatAs429 && reqModel != "" {
		cooldown := decision.cooldown
		if cooldown <= 0 {
			cooldown = 5 * time.Minute
		}
		p.models.lock(connID, reqModel, now.Add(cooldown))
		return nil
	}

	conn.Health.Status = model.StatusUnavailable
	conn.Health.LastError = errText
	conn.Health.ErrorCode = statusCode
	conn.Health.LastErrorAt = now
	conn.Health.RateLimitedUntil = now.Add(decision.cooldown)
	conn.Health.BackoffLevel = decision.newBackoffLevel
	return p.store.Save(ctx, data)
}

// MarkSuccess clears any error triple and resets backoff on a clean request.
func (p *Pool) MarkSuccess(ctx context.Context, machineID, connID string) error {
	mu := p.locks.forMachine(machineID)
	mu.Lock()
	defer mu.Unlock()

	data, err := p.store.Load(ctx, machineID)
	if err != nil {
		return err
	}
	conn, ok := data.Providers[connID]
	if !ok || conn == nil {
		return nil
	}
	if conn.Health.Status == model.StatusActive && conn.Health.LastError == "" && conn.Health.BackoffLevel == 0 {
		return nil // clean already, skip the write
	}
	conn.Health.Status = model.StatusActive
	conn.Health.LastError = ""
	conn.Health.ErrorCode = 0
	conn.Health.RateLimitedUntil = time.Time{}
	conn.Health.BackoffLevel = 0
	return p.store.Save(ctx, data)
}

type failureDecision struct {
	fallback        bool
	cooldown        time.Duration
	newBackoffLevel int
	treatAs429      bool
}

var retryableErrorTokens = []string{"rate limit", "quota", "insufficient_quota", "unavailable"}

// classifyFailure is the pure fallback policy function of spec.md §4.3.
func classifyFailure(statusCode int, errText string, backoffLevel int) failureDecision {
	lowerErr := strings.ToLower(errText)
	treatAs429 := statusCode == 429
	if !treatAs429 {
		for _, tok := range retryableErrorTokens {
			if strings.Contains(lowerErr, tok) {
				treatAs429 = true
				break
			}
		}
	}

	switch {
	case statusCode == 401 || statusCode == 403:
		return failureDecision{fallback: true, cooldown: 60 * time.Second}
	case treatAs429:
		base := time.Second
		cooldown := time.Duration(float64(base) * math.Pow(2, float64(backoffLevel)))
		if cooldown > time.Hour {
			cooldown = time.Hour
		}
		return failureDecision{fallback: true, cooldown: cooldown, newBackoffLevel: backoffLevel + 1, treatAs429: true}
	case statusCode == 402:
		return failureDecision{fallback: true, cooldown: 24 * time.Hour}
	case statusCode >= 500 && statusCode < 600:
		return failureDecision{fallback: true, cooldown: 30 * time.Second}
	case statusCode == 0:
		return failureDecision{fallback: true, cooldown: 15 * time.Second}
	default:
		return failureDecision{fallback: false}
	}
}

// ShouldFallback reports whether statusCode/errText should hop to the next
// credential rather than surface to the client.
func ShouldFallback(statusCode int, errText string) bool {
	return classifyFailure(statusCode, errText, 0).fallback
}
