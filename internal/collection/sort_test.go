package collection

import (
	"testing"
	"time"

	"github.com/hitoshi/planner/internal/model"
)

func day(n int) time.Time { return march1.AddDate(0, 0, n) }

// TestSortTasksByDue は期限の昇順に並ぶことを検証する。
func TestSortTasksByDue(t *testing.T) {
	tasks := []model.Task{{ID: "c", DueDate: day(3)}, {ID: "a", DueDate: day(1)}, {ID: "b", DueDate: day(2)}}
	SortTasksByDue(tasks)
	if tasks[0].ID != "a" || tasks[1].ID != "b" || tasks[2].ID != "c" {
		t.Errorf("order = %s%s%s, want abc", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
}

// TestSortGoalsByTarget は目標日の昇順に並ぶことを検証する。
func TestSortGoalsByTarget(t *testing.T) {
	goals := []model.Goal{{ID: "late", TargetDate: day(9)}, {ID: "early", TargetDate: day(1)}}
	SortGoalsByTarget(goals)
	if goals[0].ID != "early" {
		t.Errorf("first = %s, want early", goals[0].ID)
	}
}

// TestRecentTasks_DoesNotMutateInput は入力を変更せずに期限の降順で切り出すことを検証する。
func TestRecentTasks_DoesNotMutateInput(t *testing.T) {
	tasks := []model.Task{{ID: "a", DueDate: day(1)}, {ID: "b", DueDate: day(2)}, {ID: "c", DueDate: day(3)}}
	got := RecentTasks(tasks, 2)

	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("RecentTasks = %+v", got)
	}
	if tasks[0].ID != "a" {
		t.Error("input slice was reordered")
	}
}

// TestActiveGoals_SkipsCompleted は完了済みの目標を除外することを検証する。
func TestActiveGoals_SkipsCompleted(t *testing.T) {
	goals := []model.Goal{{ID: "done", Progress: 100}, {ID: "half", Progress: 50}, {ID: "new", Progress: 0}}
	got := ActiveGoals(goals, 5)
	if len(got) != 2 || got[0].ID != "half" || got[1].ID != "new" {
		t.Errorf("ActiveGoals = %+v", got)
	}
}

// TestRecentNotes は新しい順にlimit件を返すことを検証する。
func TestRecentNotes(t *testing.T) {
	notes := []model.Note{{ID: "old", CreatedAt: day(1)}, {ID: "new", CreatedAt: day(5)}, {ID: "mid", CreatedAt: day(3)}}
	got := RecentNotes(notes, 2)
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("RecentNotes = %+v", got)
	}
	if len(RecentNotes(nil, 5)) != 0 {
		t.Error("RecentNotes(nil) should be empty")
	}
}
