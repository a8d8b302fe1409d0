package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/kbinsights/kickbase-insights/internal/domain/snapshot"
	"github.com/kbinsights/kickbase-insights/internal/infrastructure/repository/memory"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
	"github.com/kbinsights/kickbase-insights/internal/usecase"
)

type staticRefresher struct {
	result usecase.RunResult
}

func (r *staticRefresher) Run(context.Context) (usecase.RunResult, error) {
	return r.result, nil
}

func newTestRouter(t *testing.T, snapshots snapshot.Repository) http.Handler {
	t.Helper()

	dashboard := usecase.NewDashboardService(snapshots, nil, logging.NewNop())
	scheduler := usecase.NewSchedulerService(
		&staticRefresher{result: usecase.RunResult{LeagueID: "l1", ManagerCount: 8}},
		"0 * * * *", time.Minute, nil, logging.NewNop())
	handler := NewHandler(dashboard, scheduler, "l1", logging.NewNop())
	return NewRouter(handler, slog.New(slog.DiscardHandler), nil, "job-token")
}

func TestGetDashboardSection(t *testing.T) {
	t.Parallel()

	snapshots := memory.NewSnapshotRepository()
	computedAt := time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)
	if err := snapshots.Save(context.Background(), snapshot.Snapshot{
		LeagueID:   "l1",
		Section:    snapshot.SectionBalances,
		Payload:    []byte(`[{"username":"Alice","balance":1000}]`),
		ComputedAt: computedAt,
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	router := newTestRouter(t, snapshots)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/dashboard/balances", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var body struct {
		APIVersion string `json:"apiVersion"`
		Data       struct {
			UpdatedAt time.Time `json:"updatedAt"`
			Payload   []struct {
				Username string `json:"username"`
				Balance  int64  `json:"balance"`
			} `json:"payload"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Data.UpdatedAt.Equal(computedAt) {
		t.Fatalf("expected updatedAt=%v, got %v", computedAt, body.Data.UpdatedAt)
	}
	if len(body.Data.Payload) != 1 || body.Data.Payload[0].Username != "Alice" {
		t.Fatalf("expected stored payload to pass through, got %+v", body.Data.Payload)
	}
}

func TestGetDashboardSectionNotComputedYet(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, memory.NewSnapshotRepository())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/dashboard/turnovers", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestTriggerRefreshRequiresToken(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, memory.NewSnapshotRepository())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/refresh", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/refresh", strings.NewReader(`{"reason":"manual test"}`))
	req.Header.Set("X-Internal-Job-Token", "job-token")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"started":true`) {
		t.Fatalf("expected started=true, got body=%s", rec.Body.String())
	}
}

func TestTriggerRefreshRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, memory.NewSnapshotRepository())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/refresh", strings.NewReader(`{not json`))
	req.Header.Set("X-Internal-Job-Token", "job-token")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}
