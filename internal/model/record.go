package model

import "time"

// Task はユーザーのタスク。
// IDは初回書き込み時に永続ストアが採番する。
type Task struct {
	ID          string
	Title       string
	Description string
	DueDate     time.Time
	Completed   bool
	OwnerID     string
}

// Goal はユーザーの目標。Progressは0〜100。
type Goal struct {
	ID          string
	Title       string
	Description string
	TargetDate  time.Time
	Progress    int
	OwnerID     string
}

// NoteKind はノートの種類を表す。
type NoteKind string

const (
	NoteKindText  NoteKind = "text"
	NoteKindPhoto NoteKind = "photo"
	NoteKindAudio NoteKind = "audio"
)

// Valid はNoteKindが定義済みの値かを返す。
func (k NoteKind) Valid() bool {
	switch k {
	case NoteKindText, NoteKindPhoto, NoteKindAudio:
		return true
	default:
		return false
	}
}

// Note はユーザーのノート。
// Kindに対応するペイロード（Content, PhotoRef, AudioRef）のいずれか1つだけが設定される。
type Note struct {
	ID        string
	Title     string
	Kind      NoteKind
	Content   string
	PhotoRef  string
	AudioRef  string
	CreatedAt time.Time
	OwnerID   string
}

// Payload はKindに対応するペイロードを返す。
func (n Note) Payload() string {
	switch n.Kind {
	case NoteKindPhoto:
		return n.PhotoRef
	case NoteKindAudio:
		return n.AudioRef
	default:
		return n.Content
	}
}

// MinProgress, MaxProgress はGoal.Progressの範囲。
const (
	MinProgress = 0
	MaxProgress = 100
)

// ClampProgress はprogressを[0, 100]に丸める。
func ClampProgress(progress int) int {
	if progress < MinProgress {
		return MinProgress
	}
	if progress > MaxProgress {
		return MaxProgress
	}
	return progress
}
