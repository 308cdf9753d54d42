package collection

import (
	"slices"

	"github.com/hitoshi/planner/internal/model"
)

// SortTasksByDue はタスクを期限の昇順に並べ替える。
func SortTasksByDue(tasks []model.Task) {
	slices.SortStableFunc(tasks, func(a, b model.Task) int {
		return a.DueDate.Compare(b.DueDate)
	})
}

// SortGoalsByTarget は目標を目標日の昇順に並べ替える。
func SortGoalsByTarget(goals []model.Goal) {
	slices.SortStableFunc(goals, func(a, b model.Goal) int {
		return a.TargetDate.Compare(b.TargetDate)
	})
}

// SortNotesByCreated はノートを作成日時の降順（新しい順）に並べ替える。
func SortNotesByCreated(notes []model.Note) {
	slices.SortStableFunc(notes, func(a, b model.Note) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// RecentTasks は期限の降順で先頭limit件を返す。tasksは変更しない。
func RecentTasks(tasks []model.Task, limit int) []model.Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, func(a, b model.Task) int {
		return b.DueDate.Compare(a.DueDate)
	})
	return head(out, limit)
}

// ActiveGoals は進捗が100未満の目標を先頭からlimit件返す。
func ActiveGoals(goals []model.Goal, limit int) []model.Goal {
	out := make([]model.Goal, 0, len(goals))
	for _, g := range goals {
		if g.Progress < model.MaxProgress {
			out = append(out, g)
		}
	}
	return head(out, limit)
}

// RecentNotes は作成日時の新しい順に先頭limit件を返す。notesは変更しない。
func RecentNotes(notes []model.Note, limit int) []model.Note {
	out := slices.Clone(notes)
	SortNotesByCreated(out)
	return head(out, limit)
}

func head[T any](s []T, limit int) []T {
	if limit >= 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
