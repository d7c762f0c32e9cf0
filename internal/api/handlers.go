package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/list-rotator/internal/coordinator"
	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/httputil"
)

// Workflows is the coordinator surface the handlers call.
type Workflows interface {
	TriggerPostSendMaintenance(sendID string, sentAt time.Time) (string, error)
	TriggerWeeklySweep() (string, error)
	ValidatePreSend(ctx context.Context, list domain.ListHandle, expectedCount int) (*domain.ValidationReport, error)
	GetRun(ctx context.Context, runID string) (*domain.MaintenanceRun, error)
}

// HealthChecker reports remote-store reachability for /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handlers holds the API's dependencies.
type Handlers struct {
	workflows Workflows
	remote    HealthChecker
}

// NewHandlers creates the handler set. remote may be nil.
func NewHandlers(workflows Workflows, remote HealthChecker) *Handlers {
	return &Handlers{workflows: workflows, remote: remote}
}

// postSendRequest triggers maintenance for a finished send.
type postSendRequest struct {
	SendID string    `json:"send_id"`
	SentAt time.Time `json:"sent_at"`
}

// triggerResponse acknowledges an accepted workflow trigger.
type triggerResponse struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	Queued   bool   `json:"queued"`
}

// TriggerPostSend queues post-send maintenance for a send.
// POST /api/maintenance/post-send
func (h *Handlers) TriggerPostSend(w http.ResponseWriter, r *http.Request) {
	var req postSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SendID == "" {
		httputil.BadRequest(w, "send_id is required")
		return
	}
	if req.SentAt.IsZero() {
		httputil.BadRequest(w, "sent_at is required")
		return
	}

	runID, err := h.workflows.TriggerPostSendMaintenance(req.SendID, req.SentAt)
	if err != nil {
		if errors.Is(err, coordinator.ErrQueueFull) {
			httputil.Error(w, http.StatusServiceUnavailable, "trigger queue is full, retry later")
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Accepted(w, triggerResponse{
		RunID:    runID,
		Workflow: string(domain.WorkflowPostSend),
		Queued:   true,
	})
}

// TriggerWeeklySweep queues a full reconciliation sweep.
// POST /api/maintenance/weekly-sweep
func (h *Handlers) TriggerWeeklySweep(w http.ResponseWriter, r *http.Request) {
	runID, err := h.workflows.TriggerWeeklySweep()
	if err != nil {
		if errors.Is(err, coordinator.ErrQueueFull) {
			httputil.Error(w, http.StatusServiceUnavailable, "trigger queue is full, retry later")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, triggerResponse{
		RunID:    runID,
		Workflow: string(domain.WorkflowWeeklySweep),
		Queued:   true,
	})
}

// preSendRequest asks for a synchronous list check before a send.
type preSendRequest struct {
	List          string `json:"list"`
	ExpectedCount int    `json:"expected_count"`
}

// ValidatePreSend runs the read-only pre-send check and returns the report.
// POST /api/validate/pre-send
func (h *Handlers) ValidatePreSend(w http.ResponseWriter, r *http.Request) {
	var req preSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	list := domain.ListHandle(req.List)
	if !list.Valid() {
		httputil.BadRequest(w, "unknown list "+req.List)
		return
	}
	if req.ExpectedCount < 0 {
		httputil.BadRequest(w, "expected_count must not be negative")
		return
	}

	report, err := h.workflows.ValidatePreSend(r.Context(), list, req.ExpectedCount)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, report)
}

// GetRun returns one recorded maintenance run.
// GET /api/runs/{runID}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.workflows.GetRun(r.Context(), runID)
	if err != nil {
		httputil.NotFound(w, "run "+runID+" not found")
		return
	}
	httputil.OK(w, run)
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status string `json:"status"`
	Remote string `json:"remote"`
	Time   string `json:"time"`
}

// Health reports process liveness and remote-store reachability.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Remote: "unknown",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if h.remote != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.remote.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.Remote = "unreachable"
		} else {
			resp.Remote = "ok"
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, resp)
}
