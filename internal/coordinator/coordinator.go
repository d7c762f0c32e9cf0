package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/list-rotator/internal/advisor"
	"github.com/ignite/list-rotator/internal/audit"
	"github.com/ignite/list-rotator/internal/balance"
	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/ledger"
	"github.com/ignite/list-rotator/internal/notify"
	"github.com/ignite/list-rotator/internal/pkg/distlock"
	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// ErrQueueFull means the trigger queue has no room; the caller should retry
// later. Pre-send validation is unaffected.
var ErrQueueFull = errors.New("maintenance trigger queue is full")

// Engine applies validated plans and snapshots list state.
type Engine interface {
	ApplySuppression(ctx context.Context, entries []domain.SuppressionEntry) []domain.OperationResult
	ApplyRebalancing(ctx context.Context, movements []domain.Movement) []domain.OperationResult
	Snapshot(ctx context.Context) (domain.ListSnapshot, error)
}

// PlanValidator reduces untrusted plans to their safe subsets. Rebalancing
// validation sees the suppressions the run already accepted, so one run can
// never move a contact onto a campaign list and the suppression list.
type PlanValidator interface {
	ValidateSuppression(ctx context.Context, p domain.SuppressionPlan, before domain.ListSnapshot) (domain.ValidatedSuppressionPlan, error)
	ValidateRebalancing(ctx context.Context, p domain.RebalancingPlan, before domain.ListSnapshot, suppressing []domain.SuppressionEntry) (domain.ValidatedRebalancingPlan, error)
}

// BounceSource supplies the bounce evidence for a finished send.
type BounceSource interface {
	FetchBounceEvents(ctx context.Context, sendID string) ([]domain.BounceEvent, error)
}

// Reconciler re-derives the membership ledger from remote reads.
type Reconciler interface {
	Reconcile(ctx context.Context, src ledger.MemberSource) (ledger.ReconcileStats, error)
}

// Archiver uploads finalized runs for offline audit.
type Archiver interface {
	ArchiveRun(ctx context.Context, run *domain.MaintenanceRun) error
}

// Cache is the list-metadata cache slice pre-send validation reads through.
// Read-only here: only code holding the list-set lock writes cache entries,
// so a read path can never re-mark a count a concurrent run just changed.
type Cache interface {
	Get(ctx context.Context, list domain.ListHandle) (*domain.ListMetadata, bool, error)
	GetStale(ctx context.Context, list domain.ListHandle) (*domain.ListMetadata, bool, error)
}

// CountReader reads live list sizes from the provider.
type CountReader interface {
	GetCount(ctx context.Context, list domain.ListHandle) (int, error)
}

// Deps wires the coordinator's collaborators. Lock, Engine, Validator and
// Audit are required; the rest degrade to no-ops when nil.
type Deps struct {
	Engine    Engine
	Validator PlanValidator
	Advisor   advisor.Advisor
	Fallback  advisor.Advisor
	Lock      distlock.DistLock
	Audit     audit.Writer
	Notifier  notify.Notifier
	Archiver  Archiver
	Bounces   BounceSource
	Ledger    Reconciler
	Members   ledger.MemberSource
	Cache     Cache
	Counts    CountReader
}

// Config holds the coordinator's scheduling knobs.
type Config struct {
	// TolerancePct is the balance tolerance used in reports and the
	// post-run balance check.
	TolerancePct float64
	// PostSendGate is the minimum time after a send before its maintenance
	// run may execute. Re-checked at execution, not only at trigger time.
	PostSendGate time.Duration
	// Workers is the trigger queue consumer count.
	Workers int
	// QueueSize bounds pending triggers.
	QueueSize int
	// RequeueDelay is the wait before retrying a job that found the lock
	// held or its gate not yet open.
	RequeueDelay time.Duration
	// LockTTL is the list-set lock lease. Runs that outlive half the lease
	// get heartbeat extensions so a long reconciliation cannot silently
	// lose the lock mid-mutation.
	LockTTL time.Duration
}

type job struct {
	runID    string
	workflow domain.WorkflowKind
	sendID   string
	sentAt   time.Time
	// followUp marks the rebalancing pass queued when a post-send run
	// leaves the campaign lists out of tolerance. Follow-ups skip bounce
	// evidence (the suppressions already ran) and never chain another
	// follow-up.
	followUp bool
}

// Coordinator owns the trigger queue and executes maintenance runs.
type Coordinator struct {
	deps Deps
	cfg  Config

	queue chan job
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a coordinator. Call Start to begin consuming triggers.
func New(deps Deps, cfg Config) *Coordinator {
	if cfg.TolerancePct <= 0 {
		cfg.TolerancePct = balance.DefaultTolerancePct
	}
	if cfg.PostSendGate <= 0 {
		cfg.PostSendGate = 24 * time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Coordinator{deps: deps, cfg: cfg, queue: make(chan job, cfg.QueueSize)}
}

// Start launches the worker pool. Workers exit when ctx is canceled; Stop
// waits for them.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func(id int) {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-c.queue:
					c.executeJob(ctx, j)
				}
			}
		}(i)
	}
	logger.Info("coordinator started", "workers", c.cfg.Workers)
}

// Stop waits for in-flight runs to finish. Call after canceling the Start
// context.
func (c *Coordinator) Stop() {
	c.wg.Wait()
}

// ========== Triggers ==========

// TriggerPostSendMaintenance queues a post-send maintenance run for the
// given send. Returns the run id the caller can poll. The 24h gate is
// enforced at execution time, so early triggers are accepted and wait.
func (c *Coordinator) TriggerPostSendMaintenance(sendID string, sentAt time.Time) (string, error) {
	if sendID == "" {
		return "", fmt.Errorf("send id is required")
	}
	return c.enqueue(job{
		runID:    uuid.NewString(),
		workflow: domain.WorkflowPostSend,
		sendID:   sendID,
		sentAt:   sentAt,
	})
}

// TriggerWeeklySweep queues a full reconciliation and rebalancing sweep.
func (c *Coordinator) TriggerWeeklySweep() (string, error) {
	return c.enqueue(job{
		runID:    uuid.NewString(),
		workflow: domain.WorkflowWeeklySweep,
	})
}

func (c *Coordinator) enqueue(j job) (string, error) {
	select {
	case c.queue <- j:
		logger.Info("maintenance run queued",
			"run_id", j.runID, "workflow", string(j.workflow), "send_id", j.sendID)
		return j.runID, nil
	default:
		return "", ErrQueueFull
	}
}

// requeue puts a not-yet-runnable job back on the queue after a delay.
func (c *Coordinator) requeue(ctx context.Context, j job, delay time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			select {
			case c.queue <- j:
			default:
				logger.Warn("dropping requeued run, queue full", "run_id", j.runID)
			}
		}
	}()
}

// GetRun loads a recorded run from the audit log.
func (c *Coordinator) GetRun(ctx context.Context, runID string) (*domain.MaintenanceRun, error) {
	return c.deps.Audit.GetRun(ctx, runID)
}

// ========== Run execution ==========

// executeJob runs one queued trigger: gate check, lock, then the run
// lifecycle. Jobs that cannot run yet go back on the queue.
func (c *Coordinator) executeJob(ctx context.Context, j job) {
	if j.workflow == domain.WorkflowPostSend && !j.sentAt.IsZero() {
		if wait := time.Until(j.sentAt.Add(c.cfg.PostSendGate)); wait > 0 {
			logger.Info("post-send gate not open yet, deferring",
				"run_id", j.runID, "send_id", j.sendID, "wait", wait.String())
			c.requeue(ctx, j, minDuration(wait, c.cfg.RequeueDelay))
			return
		}
	}

	acquired, err := c.deps.Lock.Acquire(ctx)
	if err != nil {
		logger.Error("lock acquisition failed", "run_id", j.runID, "error", err)
		c.requeue(ctx, j, c.cfg.RequeueDelay)
		return
	}
	if !acquired {
		logger.Info("list set locked by another run, deferring", "run_id", j.runID)
		c.requeue(ctx, j, c.cfg.RequeueDelay)
		return
	}
	defer func() {
		if err := c.deps.Lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Error("lock release failed", "run_id", j.runID, "error", err)
		}
	}()
	stopHeartbeat := c.extendLease(ctx, j.runID)
	defer stopHeartbeat()

	c.executeRun(ctx, j)
}

// lockExtender is satisfied by lease-based locks. Session-scoped locks (PG
// advisory) hold as long as the connection lives and need no heartbeat.
type lockExtender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// extendLease re-extends the lock lease at half-TTL intervals until the
// returned stop function is called. A full remote reconciliation at the
// provider's call budget outlives the initial lease; without the heartbeat
// the lock would expire mid-run and a second mutating run could start.
func (c *Coordinator) extendLease(ctx context.Context, runID string) func() {
	ext, ok := c.deps.Lock.(lockExtender)
	if !ok {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, c.cfg.LockTTL); err != nil {
					logger.Error("lock lease extension failed", "run_id", runID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (c *Coordinator) executeRun(ctx context.Context, j job) {
	run := &domain.MaintenanceRun{
		ID:        j.runID,
		Workflow:  j.workflow,
		SendID:    j.sendID,
		Status:    domain.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	logger.Info("maintenance run started", "run_id", run.ID, "workflow", string(run.Workflow))

	before, err := c.deps.Engine.Snapshot(ctx)
	if err != nil {
		// The only remote fault that aborts before any mutation.
		c.abort(ctx, run, fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err))
		return
	}
	run.BeforeState = before

	in := advisor.Input{Workflow: j.workflow, SendID: j.sendID, Snapshot: before}
	if j.workflow == domain.WorkflowPostSend && !j.followUp && c.deps.Bounces != nil {
		bounces, err := c.deps.Bounces.FetchBounceEvents(ctx, j.sendID)
		if err != nil {
			logger.Warn("bounce fetch failed, advising without evidence",
				"run_id", run.ID, "send_id", j.sendID, "error", err)
		} else {
			in.Bounces = bounces
		}
	}

	if j.workflow == domain.WorkflowWeeklySweep && c.deps.Ledger != nil && c.deps.Members != nil {
		stats, err := c.deps.Ledger.Reconcile(ctx, c.deps.Members)
		if err != nil {
			logger.Warn("ledger reconciliation failed, sweeping on existing ledger",
				"run_id", run.ID, "error", err)
		} else {
			logger.Info("ledger reconciled",
				"run_id", run.ID, "observed", stats.Observed, "pruned", stats.Pruned)
		}
	}

	proposal := c.propose(ctx, run, in)
	if proposal == nil {
		return
	}

	vsup, err := c.deps.Validator.ValidateSuppression(ctx, proposal.Suppression, before)
	if err != nil {
		c.abort(ctx, run, fmt.Errorf("suppression validation: %w", err))
		return
	}
	run.Rejected = append(run.Rejected, vsup.Rejected...)
	if vsup.TruncatedForSafety {
		logger.Warn("suppression plan truncated at safety cap",
			"run_id", run.ID, "accepted", len(vsup.Accepted))
	}

	reb := proposal.Rebalancing
	if j.workflow == domain.WorkflowWeeklySweep && reb.BackfillCount == 0 && len(vsup.Accepted) > 0 {
		// Refill what suppression is about to drain, into the thinnest list.
		reb.BackfillCount = len(vsup.Accepted)
		reb.BackfillTo = smallestCampaign(before)
	}
	vreb, err := c.deps.Validator.ValidateRebalancing(ctx, reb, before, vsup.Accepted)
	if err != nil {
		c.abort(ctx, run, fmt.Errorf("rebalancing validation: %w", err))
		return
	}
	run.Rejected = append(run.Rejected, vreb.Rejected...)
	if vreb.BackfillDeficit > 0 {
		logger.Warn("backfill partially filled",
			"run_id", run.ID, "deficit", vreb.BackfillDeficit)
	}

	supResults := c.deps.Engine.ApplySuppression(ctx, vsup.Accepted)
	rebResults := c.deps.Engine.ApplyRebalancing(ctx, vreb.Accepted)
	run.Operations = append(run.Operations, supResults...)
	run.Operations = append(run.Operations, rebResults...)
	run.Suppressed = countApplied(supResults)
	run.Rebalanced = countApplied(rebResults)

	after, err := c.deps.Engine.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("after-state snapshot failed", "run_id", run.ID, "error", err)
	} else {
		run.AfterState = after
		c1, c2, c3 := after.CampaignSizes()
		if !balance.IsBalanced(c1, c2, c3, c.cfg.TolerancePct) {
			logger.Warn("campaign lists still unbalanced after run",
				"run_id", run.ID, "deviation_pct", balance.Deviation(c1, c2, c3))
			c.queueRebalance(j)
		}
	}

	run.Finalize(time.Now().UTC())
	c.record(ctx, run, appliedSuppressions(vsup.Accepted, supResults))
	logger.Info("maintenance run finished",
		"run_id", run.ID, "status", string(run.Status),
		"suppressed", run.Suppressed, "rebalanced", run.Rebalanced)
}

// queueRebalance triggers a rebalancing pass after a post-send run that
// left the campaign lists out of tolerance. Suppression-heavy runs drain
// one list more than the others; the follow-up proposes movements against
// the post-suppression snapshot. A follow-up never chains another one, so
// a plan that cannot converge stops after a single extra pass.
func (c *Coordinator) queueRebalance(j job) {
	if j.workflow != domain.WorkflowPostSend || j.followUp {
		return
	}
	followID, err := c.enqueue(job{
		runID:    uuid.NewString(),
		workflow: domain.WorkflowPostSend,
		sendID:   j.sendID,
		sentAt:   j.sentAt,
		followUp: true,
	})
	if err != nil {
		logger.Warn("rebalancing follow-up not queued", "after_run", j.runID, "error", err)
		return
	}
	logger.Info("rebalancing follow-up queued", "after_run", j.runID, "run_id", followID)
}

// propose asks the model advisor and falls back to the rule-based planner
// when it times out, violates the schema or fails outright. Returns nil
// only when the run had to abort.
func (c *Coordinator) propose(ctx context.Context, run *domain.MaintenanceRun, in advisor.Input) *advisor.Proposal {
	if c.deps.Advisor != nil {
		proposal, err := c.deps.Advisor.Propose(ctx, in)
		if err == nil {
			return proposal
		}
		switch {
		case errors.Is(err, domain.ErrAdvisoryTimeout), errors.Is(err, domain.ErrAdvisorySchema):
			logger.Warn("advisory unavailable, using rule-based fallback",
				"run_id", run.ID, "error", err)
		default:
			logger.Error("advisory call failed, using rule-based fallback",
				"run_id", run.ID, "error", err)
		}
	}
	run.UsedFallback = true
	if c.deps.Fallback == nil {
		c.abort(ctx, run, fmt.Errorf("no advisory available and no fallback configured"))
		return nil
	}
	proposal, err := c.deps.Fallback.Propose(ctx, in)
	if err != nil {
		c.abort(ctx, run, fmt.Errorf("fallback planner: %w", err))
		return nil
	}
	return proposal
}

// abort finalizes a run that never reached execution. Aborts are audited
// like any other run so the trail shows what was attempted.
func (c *Coordinator) abort(ctx context.Context, run *domain.MaintenanceRun, reason error) {
	run.Status = domain.RunFailed
	run.AbortReason = reason.Error()
	run.FinishedAt = time.Now().UTC()
	logger.Error("maintenance run aborted", "run_id", run.ID, "reason", run.AbortReason)
	c.record(ctx, run, nil)
}

// record writes the audit row, suppression history, archive object and
// notification. All best effort except the audit row, whose failure is the
// one bookkeeping error worth shouting about.
func (c *Coordinator) record(ctx context.Context, run *domain.MaintenanceRun, suppressed []domain.SuppressionEntry) {
	ctx = context.WithoutCancel(ctx)
	if err := c.deps.Audit.RecordRun(ctx, run); err != nil {
		logger.Error("audit write failed, run record lost unless retried",
			"run_id", run.ID, "error", err)
	}
	if len(suppressed) > 0 {
		if err := c.deps.Audit.RecordSuppressions(ctx, run.ID, suppressed); err != nil {
			logger.Error("suppression history write failed", "run_id", run.ID, "error", err)
		}
	}
	if c.deps.Archiver != nil {
		if err := c.deps.Archiver.ArchiveRun(ctx, run); err != nil {
			logger.Warn("run archive failed", "run_id", run.ID, "error", err)
		}
	}
	if c.deps.Notifier != nil {
		if err := c.deps.Notifier.RunFinished(ctx, run); err != nil {
			logger.Warn("run notification failed", "run_id", run.ID, "error", err)
		}
	}
}

// ========== Helpers ==========

func countApplied(results []domain.OperationResult) int {
	n := 0
	for _, r := range results {
		if r.Status == domain.OpApplied {
			n++
		}
	}
	return n
}

// appliedSuppressions filters the accepted entries down to those whose
// remote operation actually applied, so history rows never cover contacts
// that stayed unsuppressed.
func appliedSuppressions(accepted []domain.SuppressionEntry, results []domain.OperationResult) []domain.SuppressionEntry {
	applied := make(map[domain.ContactID]bool, len(results))
	for _, r := range results {
		if r.Status == domain.OpApplied {
			applied[r.ContactID] = true
		}
	}
	var out []domain.SuppressionEntry
	for _, e := range accepted {
		if applied[e.ContactID] {
			out = append(out, e)
		}
	}
	return out
}

func smallestCampaign(snap domain.ListSnapshot) domain.ListHandle {
	best := domain.ListCampaign1
	for _, list := range domain.CampaignLists() {
		if snap[list] < snap[best] {
			best = list
		}
	}
	return best
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
