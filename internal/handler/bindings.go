package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/planner/internal/collection"
	"github.com/hitoshi/planner/internal/model"
)

// instantView は日時をRFC 3339で返す。ゼロ値はnull。
func instantView(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

// parseInstant はリクエストの日時を解釈する。RFC 3339、日付のみ、エポックミリ秒を受け付ける。
func parseInstant(field string, v any) (time.Time, error) {
	t, err := collection.ToInstant(v)
	if err != nil {
		return time.Time{}, model.NewInvalidRequestError(field + ": " + err.Error())
	}
	return t, nil
}

// --- Task ---

type taskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     any    `json:"dueDate"`
	Completed   bool   `json:"completed"`
}

type taskPatchRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     any     `json:"dueDate"`
	Completed   *bool   `json:"completed"`
}

type taskResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     *string `json:"dueDate"`
	Completed   bool    `json:"completed"`
	UserID      string  `json:"userId"`
}

func newTaskResponse(t model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     instantView(t.DueDate),
		Completed:   t.Completed,
		UserID:      t.OwnerID,
	}
}

var taskBinding = binding[model.Task, collection.TaskPatch]{
	create: func(w http.ResponseWriter, r *http.Request, owner string) (model.Task, error) {
		var req taskRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return model.Task{}, err
		}
		due, err := parseInstant("dueDate", req.DueDate)
		if err != nil {
			return model.Task{}, err
		}
		return model.Task{
			Title:       req.Title,
			Description: req.Description,
			DueDate:     due,
			Completed:   req.Completed,
			OwnerID:     owner,
		}, nil
	},
	patch: func(w http.ResponseWriter, r *http.Request) (collection.TaskPatch, error) {
		var req taskPatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return collection.TaskPatch{}, err
		}
		patch := collection.TaskPatch{Title: req.Title, Description: req.Description, Completed: req.Completed}
		if req.DueDate != nil {
			due, err := parseInstant("dueDate", req.DueDate)
			if err != nil {
				return collection.TaskPatch{}, err
			}
			patch.DueDate = &due
		}
		return patch, nil
	},
	id:   func(t model.Task) string { return t.ID },
	view: func(t model.Task) any { return newTaskResponse(t) },
	sort: collection.SortTasksByDue,
}

// --- Goal ---

type goalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TargetDate  any    `json:"targetDate"`
	Progress    int    `json:"progress"`
}

type goalPatchRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	TargetDate  any     `json:"targetDate"`
	Progress    *int    `json:"progress"`
}

type goalResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	TargetDate  *string `json:"targetDate"`
	Progress    int     `json:"progress"`
	UserID      string  `json:"userId"`
}

func newGoalResponse(g model.Goal) goalResponse {
	return goalResponse{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		TargetDate:  instantView(g.TargetDate),
		Progress:    g.Progress,
		UserID:      g.OwnerID,
	}
}

var goalBinding = binding[model.Goal, collection.GoalPatch]{
	create: func(w http.ResponseWriter, r *http.Request, owner string) (model.Goal, error) {
		var req goalRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return model.Goal{}, err
		}
		target, err := parseInstant("targetDate", req.TargetDate)
		if err != nil {
			return model.Goal{}, err
		}
		return model.Goal{
			Title:       req.Title,
			Description: req.Description,
			TargetDate:  target,
			Progress:    req.Progress,
			OwnerID:     owner,
		}, nil
	},
	patch: func(w http.ResponseWriter, r *http.Request) (collection.GoalPatch, error) {
		var req goalPatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return collection.GoalPatch{}, err
		}
		patch := collection.GoalPatch{Title: req.Title, Description: req.Description, Progress: req.Progress}
		if req.TargetDate != nil {
			target, err := parseInstant("targetDate", req.TargetDate)
			if err != nil {
				return collection.GoalPatch{}, err
			}
			patch.TargetDate = &target
		}
		return patch, nil
	},
	id:   func(g model.Goal) string { return g.ID },
	view: func(g model.Goal) any { return newGoalResponse(g) },
	sort: collection.SortGoalsByTarget,
}

// --- Note ---

type noteRequest struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	PhotoURL  string `json:"photoUrl"`
	AudioData string `json:"audioData"`
}

type notePatchRequest struct {
	Title     *string `json:"title"`
	Type      *string `json:"type"`
	Content   *string `json:"content"`
	PhotoURL  *string `json:"photoUrl"`
	AudioData *string `json:"audioData"`
}

type noteResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Content   string  `json:"content,omitempty"`
	PhotoURL  string  `json:"photoUrl,omitempty"`
	AudioData string  `json:"audioData,omitempty"`
	CreatedAt *string `json:"createdAt"`
	UserID    string  `json:"userId"`
}

func newNoteResponse(n model.Note) noteResponse {
	return noteResponse{
		ID:        n.ID,
		Title:     n.Title,
		Type:      string(n.Kind),
		Content:   n.Content,
		PhotoURL:  n.PhotoRef,
		AudioData: n.AudioRef,
		CreatedAt: instantView(n.CreatedAt),
		UserID:    n.OwnerID,
	}
}

var noteBinding = binding[model.Note, collection.NotePatch]{
	create: func(w http.ResponseWriter, r *http.Request, owner string) (model.Note, error) {
		var req noteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return model.Note{}, err
		}
		return model.Note{
			Title:    req.Title,
			Kind:     model.NoteKind(req.Type),
			Content:  req.Content,
			PhotoRef: req.PhotoURL,
			AudioRef: req.AudioData,
			OwnerID:  owner,
		}, nil
	},
	patch: func(w http.ResponseWriter, r *http.Request) (collection.NotePatch, error) {
		var req notePatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return collection.NotePatch{}, err
		}
		patch := collection.NotePatch{
			Title:    req.Title,
			Content:  req.Content,
			PhotoRef: req.PhotoURL,
			AudioRef: req.AudioData,
		}
		if req.Type != nil {
			kind := model.NoteKind(*req.Type)
			patch.Kind = &kind
		}
		return patch, nil
	},
	id:   func(n model.Note) string { return n.ID },
	view: func(n model.Note) any { return newNoteResponse(n) },
	sort: collection.SortNotesByCreated,
}
