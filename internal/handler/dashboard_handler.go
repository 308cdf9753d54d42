package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/planner/internal/collection"
	"github.com/hitoshi/planner/internal/middleware"
)

// DashboardSource はダッシュボードの内容を読み込む。
// collection.Plannerが実装する。
type DashboardSource interface {
	Dashboard(ctx context.Context, ownerID string) (*collection.Dashboard, error)
}

// dashboardResponse はダッシュボードのレスポンス。
type dashboardResponse struct {
	RecentTasks []taskResponse `json:"recentTasks"`
	ActiveGoals []goalResponse `json:"activeGoals"`
	RecentNotes []noteResponse `json:"recentNotes"`
}

func newDashboardResponse(d *collection.Dashboard) dashboardResponse {
	resp := dashboardResponse{
		RecentTasks: make([]taskResponse, 0, len(d.RecentTasks)),
		ActiveGoals: make([]goalResponse, 0, len(d.ActiveGoals)),
		RecentNotes: make([]noteResponse, 0, len(d.RecentNotes)),
	}
	for _, t := range d.RecentTasks {
		resp.RecentTasks = append(resp.RecentTasks, newTaskResponse(t))
	}
	for _, g := range d.ActiveGoals {
		resp.ActiveGoals = append(resp.ActiveGoals, newGoalResponse(g))
	}
	for _, n := range d.RecentNotes {
		resp.RecentNotes = append(resp.RecentNotes, newNoteResponse(n))
	}
	return resp
}

// DashboardHandler はダッシュボードAPIのハンドラー。
type DashboardHandler struct {
	source DashboardSource
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(source DashboardSource) *DashboardHandler {
	return &DashboardHandler{source: source}
}

// Get は直近のタスク、進行中の目標、最新のノートを返す。
// GET /api/dashboard
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	dashboard, err := h.source.Dashboard(r.Context(), owner)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDashboardResponse(dashboard))
}
