package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
	"github.com/kbinsights/kickbase-insights/internal/usecase"
)

type Handler struct {
	dashboardService *usecase.DashboardService
	scheduler        *usecase.SchedulerService
	leagueID         string
	logger           *logging.Logger
	validator        *validator.Validate
}

func NewHandler(
	dashboardService *usecase.DashboardService,
	scheduler *usecase.SchedulerService,
	leagueID string,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		dashboardService: dashboardService,
		scheduler:        scheduler,
		leagueID:         leagueID,
		logger:           logger,
		validator:        validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

// sectionDTO wraps a stored section payload with its computation timestamp.
// The payload is already serialized JSON and passes through untouched.
type sectionDTO struct {
	UpdatedAt time.Time       `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// sectionHandler serves one dashboard dataset.
func (h *Handler) sectionHandler(section snapshot.Section, spanName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := startSpan(r.Context(), spanName)
		defer span.End()

		snap, err := h.dashboardService.Section(ctx, h.leagueID, section)
		if err != nil {
			h.logger.ErrorContext(ctx, "get dashboard section failed",
				"section", string(section), "error", err)
			writeError(ctx, w, err)
			return
		}

		writeSuccess(ctx, w, http.StatusOK, sectionDTO{
			UpdatedAt: snap.ComputedAt,
			Payload:   json.RawMessage(snap.Payload),
		})
	}
}

func (h *Handler) GetTurnovers(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionTurnovers, "httpapi.Handler.GetTurnovers")(w, r)
}

func (h *Handler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionRevenue, "httpapi.Handler.GetRevenue")(w, r)
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionBalances, "httpapi.Handler.GetBalances")(w, r)
}

func (h *Handler) GetUserMarket(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionMarketUser, "httpapi.Handler.GetUserMarket")(w, r)
}

func (h *Handler) GetPlatformMarket(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionMarketPlatform, "httpapi.Handler.GetPlatformMarket")(w, r)
}

func (h *Handler) GetMarketValueChanges(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionMarketValues, "httpapi.Handler.GetMarketValueChanges")(w, r)
}

func (h *Handler) GetTakenPlayers(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionTakenPlayers, "httpapi.Handler.GetTakenPlayers")(w, r)
}

func (h *Handler) GetFreePlayers(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionFreePlayers, "httpapi.Handler.GetFreePlayers")(w, r)
}

func (h *Handler) GetTeamValues(w http.ResponseWriter, r *http.Request) {
	h.sectionHandler(snapshot.SectionTeamValues, "httpapi.Handler.GetTeamValues")(w, r)
}

type triggerRefreshRequest struct {
	// Reason is recorded in the logs of manually triggered runs.
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

type triggerRefreshResponse struct {
	Started        bool     `json:"started"`
	ManagerCount   int      `json:"managerCount,omitempty"`
	TransferCount  int      `json:"transferCount,omitempty"`
	PairCount      int      `json:"pairCount,omitempty"`
	FailedSections []string `json:"failedSections,omitempty"`
}

// TriggerRefresh runs a refresh outside the schedule. Returns 409 when a run
// is already in flight.
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.TriggerRefresh")
	defer span.End()

	var req triggerRefreshRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: read request body", usecase.ErrInvalidInput))
		return
	}
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			writeError(ctx, w, fmt.Errorf("%w: malformed request body", usecase.ErrInvalidInput))
			return
		}
		if err := h.validator.Struct(req); err != nil {
			writeError(ctx, w, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err))
			return
		}
	}

	if req.Reason != "" {
		h.logger.InfoContext(ctx, "manual refresh requested", "reason", req.Reason)
	}

	result, ran, err := h.scheduler.TriggerNow(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual refresh failed", "error", err)
		writeError(ctx, w, err)
		return
	}
	if !ran {
		writeJSON(ctx, w, http.StatusConflict, googleResponseEnvelope{
			APIVersion: googleAPIVersion,
			Data:       triggerRefreshResponse{Started: false},
		})
		return
	}

	failed := make([]string, 0)
	for _, section := range result.FailedSections() {
		failed = append(failed, string(section))
	}
	writeSuccess(ctx, w, http.StatusOK, triggerRefreshResponse{
		Started:        true,
		ManagerCount:   result.ManagerCount,
		TransferCount:  result.TransferCount,
		PairCount:      result.PairCount,
		FailedSections: failed,
	})
}
