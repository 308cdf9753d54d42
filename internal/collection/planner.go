package collection

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/planner/internal/docstore"
	"github.com/hitoshi/planner/internal/metrics"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/security"
)

// DashboardLimit はダッシュボードの各カードに表示する最大件数。
const DashboardLimit = 5

// Planner はタスク・目標・ノートの3コレクションをまとめる。
type Planner struct {
	Tasks *Collection[model.Task, TaskPatch]
	Goals *Collection[model.Goal, GoalPatch]
	Notes *Collection[model.Note, NotePatch]
}

// NewPlanner は同じストアとワイヤー表現を使う3コレクションを生成する。
func NewPlanner(
	store docstore.Store,
	format WireFormat,
	sanitizer security.ContentSanitizerService,
	guard security.OutboundGuardService,
	collector metrics.MetricsCollector,
) *Planner {
	return &Planner{
		Tasks: New(store, NewTaskCodec(format), collector),
		Goals: New(store, NewGoalCodec(format), collector),
		Notes: New(store, NewNoteCodec(format, sanitizer, guard), collector),
	}
}

// ToggleTask はタスクの完了フラグを反転する。
func (p *Planner) ToggleTask(ctx context.Context, task model.Task) error {
	completed := !task.Completed
	return p.Tasks.Update(ctx, task.ID, TaskPatch{Completed: &completed})
}

// SetGoalProgress は目標の進捗を更新する。範囲外の値は[0, 100]に丸められる。
func (p *Planner) SetGoalProgress(ctx context.Context, id string, progress int) error {
	return p.Goals.Update(ctx, id, GoalPatch{Progress: &progress})
}

// Dashboard はダッシュボードの表示内容。
type Dashboard struct {
	RecentTasks []model.Task
	ActiveGoals []model.Goal
	RecentNotes []model.Note
}

// Dashboard は3コレクションを並行して1回ずつ読み込み、ダッシュボードを組み立てる。
// いずれかの読み込みに失敗した場合はそのエラーを返す。
func (p *Planner) Dashboard(ctx context.Context, ownerID string) (*Dashboard, error) {
	var (
		tasks []model.Task
		goals []model.Goal
		notes []model.Note
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = p.Tasks.First(ctx, ownerID)
		return err
	})
	g.Go(func() error {
		var err error
		goals, err = p.Goals.First(ctx, ownerID)
		return err
	})
	g.Go(func() error {
		var err error
		notes, err = p.Notes.First(ctx, ownerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Dashboard{
		RecentTasks: RecentTasks(tasks, DashboardLimit),
		ActiveGoals: ActiveGoals(goals, DashboardLimit),
		RecentNotes: RecentNotes(notes, DashboardLimit),
	}, nil
}
