package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fedlearn/coordinator-engine/internal/auth"
	"github.com/fedlearn/coordinator-engine/internal/ledger"
	"github.com/fedlearn/coordinator-engine/internal/privacy"
	"github.com/fedlearn/coordinator-engine/internal/ratelimit"
	"github.com/fedlearn/coordinator-engine/internal/store"
	"github.com/fedlearn/coordinator-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Coordinator
//
// The serialized region. Every mutation of the round machine, the auth
// registry, the rate limiter and the three ledgers happens under one
// coarse mutex; a command that enters the region always runs to
// completion. Aggregation compute and model-store disk I/O run outside
// the lock on snapshots and re-enter only to publish.
// ──────────────────────────────────────────────────────────────────

// Config tunes round completion and aggregation behavior.
type Config struct {
	AsyncEnabled       bool
	AsyncMinUpdates    int
	AsyncMaxDuration   time.Duration
	AsyncCheckInterval time.Duration
	AggregationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AsyncEnabled:       false,
		AsyncMinUpdates:    2,
		AsyncMaxDuration:   300 * time.Second,
		AsyncCheckInterval: time.Second,
		AggregationTimeout: 60 * time.Second,
	}
}

// EventSink receives round lifecycle events for live streaming. Payloads
// never contain token values.
type EventSink interface {
	Publish(event string, payload map[string]any)
}

// Archiver receives closed-round snapshots for best-effort external
// persistence. Errors are logged, never propagated.
type Archiver interface {
	ArchiveRound(ctx context.Context, snap *ledger.RoundSnapshot) error
}

type Coordinator struct {
	mu sync.Mutex

	cfg        Config
	registry   *auth.Registry
	limiter    *ratelimit.Limiter
	guard      *privacy.Guard
	store      *store.Store
	reputation *ledger.ReputationLedger
	incentives *ledger.IncentiveLedger
	metrics    *ledger.MetricsLedger

	rounds      map[int]*round
	current     *round
	nextRoundID int

	events  EventSink
	archive Archiver

	// asyncKick wakes the async controller early when a quorum may have
	// been reached.
	asyncKick chan struct{}
}

// Deps carries the collaborators the coordinator context owns references
// to. Ledgers are plain records; all behavior runs through the coordinator
// (no hidden globals, no bidirectional pointers).
type Deps struct {
	Registry   *auth.Registry
	Limiter    *ratelimit.Limiter
	Guard      *privacy.Guard
	Store      *store.Store
	Reputation *ledger.ReputationLedger
	Incentives *ledger.IncentiveLedger
	Metrics    *ledger.MetricsLedger
	Events     EventSink
	Archive    Archiver
}

// New wires a coordinator and opens round 1 against the store's latest
// model version.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	c := &Coordinator{
		cfg:         cfg,
		registry:    deps.Registry,
		limiter:     deps.Limiter,
		guard:       deps.Guard,
		store:       deps.Store,
		reputation:  deps.Reputation,
		incentives:  deps.Incentives,
		metrics:     deps.Metrics,
		rounds:      make(map[int]*round),
		nextRoundID: 1,
		events:      deps.Events,
		archive:     deps.Archive,
		asyncKick:   make(chan struct{}, 1),
	}

	version, ok := c.store.Latest()
	if !ok {
		return nil, fmt.Errorf("model store has no versions")
	}
	model, err := c.store.Get(version)
	if err != nil {
		return nil, fmt.Errorf("load latest model %s: %w", version, err)
	}

	c.mu.Lock()
	c.openRound(version, model.Shape())
	c.mu.Unlock()
	return c, nil
}

// openRound creates the successor current round. Callers hold the lock.
func (c *Coordinator) openRound(inputVersion string, inputShape []int) *round {
	r := newRound(c.nextRoundID, inputVersion, inputShape)
	c.nextRoundID++
	c.rounds[r.ID] = r
	c.current = r
	c.metrics.StartRound(r.ID, inputVersion, r.CreatedAt)
	log.Printf("[Coordinator] Round %d opened (input model %s)", r.ID, inputVersion)
	c.publish("round_opened", map[string]any{
		"round_id":      r.ID,
		"model_version": inputVersion,
	})
	return r
}

func (c *Coordinator) publish(event string, payload map[string]any) {
	if c.events != nil {
		c.events.Publish(event, payload)
	}
}

// Register creates a client record and issues its token. The client id is
// the caller-chosen name; duplicates are rejected and the first token
// stays valid.
func (c *Coordinator) Register(clientName string) (string, string, error) {
	if clientName == "" {
		return "", "", fmt.Errorf("client name must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsRegistered(clientName) {
		return "", "", models.NewErr(models.CodeDuplicateClient)
	}
	token, err := c.registry.Issue(clientName)
	if err != nil {
		return "", "", models.NewErr(models.CodeDuplicateClient)
	}
	c.reputation.RecordRegistration(clientName)
	log.Printf("[Coordinator] Client %s registered", clientName)
	return clientName, token, nil
}

// authenticate resolves the client's identity. Callers hold the lock.
func (c *Coordinator) authenticate(clientID, token string) models.Code {
	if !c.registry.IsRegistered(clientID) {
		return models.CodeUnknownClient
	}
	if !c.registry.Verify(clientID, token) {
		return models.CodeUnauthorized
	}
	return models.CodeOK
}

// AssignTask maps a registered client onto the current round. Repeated
// calls before submission return the same task; after submission (while
// the round is still collecting) there is no next round yet and the call
// reports no_task_available.
func (c *Coordinator) AssignTask(clientID, token string) (*models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if code := c.authenticate(clientID, token); code != models.CodeOK {
		return nil, models.NewErr(code)
	}
	if !c.limiter.Check(clientID, ratelimit.KindRequest) {
		return nil, models.NewErr(models.CodeRateLimited)
	}

	r := c.current
	if r == nil || (r.State != models.RoundOpen && r.State != models.RoundCollecting) {
		return nil, models.NewErr(models.CodeNoTaskAvailable)
	}

	if _, assigned := r.Assigned[clientID]; assigned {
		if _, submitted := r.Received[clientID]; submitted {
			return nil, models.NewErr(models.CodeNoTaskAvailable)
		}
		return &models.Task{RoundID: r.ID, ModelVersion: r.InputVersion, Task: "train"}, nil
	}

	r.Assigned[clientID] = struct{}{}
	if r.State == models.RoundOpen {
		r.State = models.RoundCollecting
	}
	c.reputation.RecordParticipation(clientID)
	c.metrics.ClientAssigned(r.ID, clientID)
	c.publish("client_assigned", map[string]any{
		"round_id":  r.ID,
		"client_id": clientID,
	})
	return &models.Task{RoundID: r.ID, ModelVersion: r.InputVersion, Task: "train"}, nil
}

// Status returns the read-only view of a round.
func (c *Coordinator) Status(roundID int) (*models.RoundStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rounds[roundID]
	if !ok {
		return nil, models.NewErr(models.CodeUnknownRound)
	}
	return r.status(), nil
}

// AsyncStats returns the completion-policy bookkeeping for a round.
func (c *Coordinator) AsyncStats(roundID int) (*models.AsyncRoundStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rounds[roundID]
	if !ok {
		return nil, models.NewErr(models.CodeUnknownRound)
	}

	stats := &models.AsyncRoundStats{
		RoundID:         r.ID,
		AssignedClients: len(r.Assigned),
		UpdatesReceived: len(r.receivedClientIDs()),
		MinimumRequired: c.cfg.AsyncMinUpdates,
		Stragglers:      []string{},
		TimeoutSeconds:  c.cfg.AsyncMaxDuration.Seconds(),
	}
	if !c.cfg.AsyncEnabled {
		stats.MinimumRequired = len(r.Assigned)
	}
	if snap := c.metrics.Get(roundID); snap != nil && len(snap.Stragglers) > 0 {
		stats.Stragglers = snap.Stragglers
	}
	if r.State == models.RoundClosed {
		stats.ElapsedSeconds = r.ClosedAt.Sub(r.CreatedAt).Seconds()
		return stats, nil
	}
	elapsed := time.Since(r.CreatedAt)
	stats.ElapsedSeconds = elapsed.Seconds()
	if remaining := c.cfg.AsyncMaxDuration - elapsed; remaining > 0 {
		stats.TimeoutRemaining = remaining.Seconds()
	}
	stats.IsReady = c.roundReadyLocked(r)
	return stats, nil
}

// roundReadyLocked implements the async completion policy: quorum OR age,
// with at least one update buffered. Callers hold the lock.
func (c *Coordinator) roundReadyLocked(r *round) bool {
	if r.State != models.RoundCollecting || len(r.Received) == 0 {
		return false
	}
	if !c.cfg.AsyncEnabled {
		return len(r.Received) >= len(r.Assigned)
	}
	if len(r.Received) >= c.cfg.AsyncMinUpdates {
		return true
	}
	return time.Since(r.CreatedAt) >= c.cfg.AsyncMaxDuration
}

// RegisteredClients returns the registry size (for health reporting).
func (c *Coordinator) RegisteredClients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Count()
}

// CurrentRoundID returns the id of the current round.
func (c *Coordinator) CurrentRoundID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.ID
}

// Snapshots expose the ledgers for the read endpoints. Reads copy data
// under the lock; snapshot-consistent within one record.

func (c *Coordinator) ReputationFor(clientID string) (*ledger.ReputationView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.reputation.Get(clientID)
	if v == nil {
		return nil, models.NewErr(models.CodeUnknownClient)
	}
	return v, nil
}

func (c *Coordinator) AllReputations() []*ledger.ReputationView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reputation.All()
}

func (c *Coordinator) IncentivesFor(clientID string) (*ledger.Incentive, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.incentives.Get(clientID)
	if v == nil {
		return nil, models.NewErr(models.CodeUnknownClient)
	}
	return v, nil
}

func (c *Coordinator) AllIncentives() []*ledger.Incentive {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incentives.All()
}

func (c *Coordinator) MetricsFor(roundID int) (*ledger.RoundSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.metrics.Get(roundID)
	if s == nil {
		return nil, models.NewErr(models.CodeUnknownRound)
	}
	return s, nil
}

func (c *Coordinator) AllMetrics() (ledger.GlobalCounters, map[int]*ledger.RoundSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics.All()
}

func (c *Coordinator) RateLimitStats(clientID string) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiter.Stats(clientID)
}

// Model loads a stored version for get_model.
func (c *Coordinator) Model(version string) (*store.Model, error) {
	m, err := c.store.Get(version)
	if err != nil {
		return nil, models.NewErr(models.CodeUnknownVersion)
	}
	return m, nil
}

// kickAsync nudges the controller without blocking.
func (c *Coordinator) kickAsync() {
	select {
	case c.asyncKick <- struct{}{}:
	default:
	}
}
