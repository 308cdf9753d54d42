package collection

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/planner/internal/docstore"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/security"
)

// コレクション名。
const (
	Tasks = "tasks"
	Goals = "goals"
	Notes = "notes"
)

// Codec はレコード型Tと部分更新型Pをストアのフィールドに相互変換する。
// 日時の変換はToInstant / FromInstantに集約する。
type Codec[T any, P any] interface {
	// Collection はコレクション名を返す。
	Collection() string
	// Decode はストアのドキュメントを正規化したレコードに変換する。
	Decode(doc docstore.Document) T
	// Encode は新規レコードを書き込み用のフィールドに変換する。
	Encode(record T) (map[string]any, error)
	// EncodePatch は部分更新を書き込み用のフィールドに変換する。
	EncodePatch(patch P) (map[string]any, error)
}

// invalidf はレコードの検証エラーを生成する。
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", docstore.ErrInvalidDocument, fmt.Sprintf(format, args...))
}

// readInstant はフィールドを日時に変換する。解釈できない値はゼロ値として扱う。
func readInstant(doc docstore.Document, field string) time.Time {
	t, err := ToInstant(doc.Data[field])
	if err != nil {
		slog.Warn("ignoring unreadable instant",
			slog.String("id", doc.ID),
			slog.String("field", field),
			slog.String("error", err.Error()),
		)
		return time.Time{}
	}
	return t
}

func requireOwner(owner string) error {
	if owner == "" {
		return invalidf("owner id is required")
	}
	return nil
}

func requireTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalidf("title is required")
	}
	return title, nil
}

// --- Task ---

// TaskPatch はタスクの部分更新。nilのフィールドは変更しない。
type TaskPatch struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Completed   *bool
}

// TaskCodec はタスクのCodec。
type TaskCodec struct {
	format WireFormat
}

// NewTaskCodec はTaskCodecを生成する。
func NewTaskCodec(format WireFormat) TaskCodec {
	return TaskCodec{format: format}
}

// Collection はCodecを実装する。
func (TaskCodec) Collection() string { return Tasks }

// Decode はCodecを実装する。
func (c TaskCodec) Decode(doc docstore.Document) model.Task {
	return model.Task{
		ID:          doc.ID,
		Title:       toString(doc.Data[FieldTitle]),
		Description: toString(doc.Data["description"]),
		DueDate:     readInstant(doc, "dueDate"),
		Completed:   toBool(doc.Data["completed"]),
		OwnerID:     toString(doc.Data[FieldOwner]),
	}
}

// Encode はCodecを実装する。
func (c TaskCodec) Encode(t model.Task) (map[string]any, error) {
	if err := requireOwner(t.OwnerID); err != nil {
		return nil, err
	}
	title, err := requireTitle(t.Title)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		FieldTitle:    title,
		"description": t.Description,
		"dueDate":     FromInstant(t.DueDate, c.format),
		"completed":   t.Completed,
		FieldOwner:    t.OwnerID,
	}, nil
}

// EncodePatch はCodecを実装する。
func (c TaskCodec) EncodePatch(p TaskPatch) (map[string]any, error) {
	fields := map[string]any{}
	if p.Title != nil {
		title, err := requireTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		fields[FieldTitle] = title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.DueDate != nil {
		fields["dueDate"] = FromInstant(*p.DueDate, c.format)
	}
	if p.Completed != nil {
		fields["completed"] = *p.Completed
	}
	return fields, nil
}

// --- Goal ---

// GoalPatch は目標の部分更新。Progressは[0, 100]に丸めて書き込まれる。
type GoalPatch struct {
	Title       *string
	Description *string
	TargetDate  *time.Time
	Progress    *int
}

// GoalCodec は目標のCodec。
type GoalCodec struct {
	format WireFormat
}

// NewGoalCodec はGoalCodecを生成する。
func NewGoalCodec(format WireFormat) GoalCodec {
	return GoalCodec{format: format}
}

// Collection はCodecを実装する。
func (GoalCodec) Collection() string { return Goals }

// Decode はCodecを実装する。進捗が欠けているか数値でなければ0になる。
func (c GoalCodec) Decode(doc docstore.Document) model.Goal {
	return model.Goal{
		ID:          doc.ID,
		Title:       toString(doc.Data[FieldTitle]),
		Description: toString(doc.Data["description"]),
		TargetDate:  readInstant(doc, "targetDate"),
		Progress:    model.ClampProgress(toInt(doc.Data["progress"])),
		OwnerID:     toString(doc.Data[FieldOwner]),
	}
}

// Encode はCodecを実装する。
func (c GoalCodec) Encode(g model.Goal) (map[string]any, error) {
	if err := requireOwner(g.OwnerID); err != nil {
		return nil, err
	}
	title, err := requireTitle(g.Title)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		FieldTitle:    title,
		"description": g.Description,
		"targetDate":  FromInstant(g.TargetDate, c.format),
		"progress":    model.ClampProgress(g.Progress),
		FieldOwner:    g.OwnerID,
	}, nil
}

// EncodePatch はCodecを実装する。
func (c GoalCodec) EncodePatch(p GoalPatch) (map[string]any, error) {
	fields := map[string]any{}
	if p.Title != nil {
		title, err := requireTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		fields[FieldTitle] = title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.TargetDate != nil {
		fields["targetDate"] = FromInstant(*p.TargetDate, c.format)
	}
	if p.Progress != nil {
		fields["progress"] = model.ClampProgress(*p.Progress)
	}
	return fields, nil
}

// --- Note ---

// NotePatch はノートの部分更新。
// 本文・写真・音声を変更する場合はKindも指定する。Kind以外のペイロードは空に書き換えられる。
type NotePatch struct {
	Title    *string
	Kind     *model.NoteKind
	Content  *string
	PhotoRef *string
	AudioRef *string
}

// NoteCodec はノートのCodec。テキストはサニタイズし、写真・音声の参照は検証する。
type NoteCodec struct {
	format    WireFormat
	sanitizer security.ContentSanitizerService
	guard     security.OutboundGuardService
	now       func() time.Time
}

// NewNoteCodec はNoteCodecを生成する。
func NewNoteCodec(format WireFormat, sanitizer security.ContentSanitizerService, guard security.OutboundGuardService) NoteCodec {
	return NoteCodec{format: format, sanitizer: sanitizer, guard: guard, now: time.Now}
}

// Collection はCodecを実装する。
func (NoteCodec) Collection() string { return Notes }

// Decode はCodecを実装する。種類に対応しないペイロードは読み捨てる。
func (c NoteCodec) Decode(doc docstore.Document) model.Note {
	kind := model.NoteKind(toString(doc.Data["type"]))
	if !kind.Valid() {
		kind = model.NoteKindText
	}
	n := model.Note{
		ID:        doc.ID,
		Title:     toString(doc.Data[FieldTitle]),
		Kind:      kind,
		CreatedAt: readInstant(doc, "createdAt"),
		OwnerID:   toString(doc.Data[FieldOwner]),
	}
	switch kind {
	case model.NoteKindPhoto:
		n.PhotoRef = toString(doc.Data["photoUrl"])
	case model.NoteKindAudio:
		n.AudioRef = toString(doc.Data["audioData"])
	default:
		n.Content = toString(doc.Data["content"])
	}
	return n
}

// Encode はCodecを実装する。CreatedAtが未設定なら現在時刻を使う。
func (c NoteCodec) Encode(n model.Note) (map[string]any, error) {
	if err := requireOwner(n.OwnerID); err != nil {
		return nil, err
	}
	title, err := requireTitle(c.sanitizer.SanitizeText(n.Title))
	if err != nil {
		return nil, err
	}

	payload, err := c.payloadFields(n.Kind, n.Content, n.PhotoRef, n.AudioRef)
	if err != nil {
		return nil, err
	}

	created := n.CreatedAt
	if created.IsZero() {
		created = c.now()
	}

	fields := map[string]any{
		FieldTitle:  title,
		"createdAt": FromInstant(created, c.format),
		FieldOwner:  n.OwnerID,
	}
	for k, v := range payload {
		fields[k] = v
	}
	return fields, nil
}

// EncodePatch はCodecを実装する。
func (c NoteCodec) EncodePatch(p NotePatch) (map[string]any, error) {
	fields := map[string]any{}
	if p.Title != nil {
		title, err := requireTitle(c.sanitizer.SanitizeText(*p.Title))
		if err != nil {
			return nil, err
		}
		fields[FieldTitle] = title
	}

	if p.Kind == nil {
		if p.Content != nil || p.PhotoRef != nil || p.AudioRef != nil {
			return nil, invalidf("type is required when changing note content")
		}
		return fields, nil
	}

	payload, err := c.payloadFields(*p.Kind, deref(p.Content), deref(p.PhotoRef), deref(p.AudioRef))
	if err != nil {
		return nil, err
	}
	for k, v := range payload {
		fields[k] = v
	}
	return fields, nil
}

// payloadFields は種類とペイロードの整合性を検証し、書き込むフィールドを返す。
// 種類に対応しないペイロードが指定されていればエラーにする。
func (c NoteCodec) payloadFields(kind model.NoteKind, content, photoRef, audioRef string) (map[string]any, error) {
	if !kind.Valid() {
		return nil, invalidf("unknown note type %q", kind)
	}

	fields := map[string]any{
		"type":      string(kind),
		"content":   "",
		"photoUrl":  "",
		"audioData": "",
	}

	switch kind {
	case model.NoteKindText:
		if photoRef != "" || audioRef != "" {
			return nil, invalidf("text note must not carry media")
		}
		text := c.sanitizer.SanitizeText(content)
		if text == "" {
			return nil, invalidf("text note requires content")
		}
		fields["content"] = text
	case model.NoteKindPhoto:
		if content != "" || audioRef != "" {
			return nil, invalidf("photo note must only carry a photo")
		}
		if err := c.validateMedia(photoRef, security.MediaImage); err != nil {
			return nil, err
		}
		fields["photoUrl"] = photoRef
	case model.NoteKindAudio:
		if content != "" || photoRef != "" {
			return nil, invalidf("audio note must only carry audio")
		}
		if err := c.validateMedia(audioRef, security.MediaAudio); err != nil {
			return nil, err
		}
		fields["audioData"] = audioRef
	}
	return fields, nil
}

func (c NoteCodec) validateMedia(ref string, kind security.MediaKind) error {
	if ref == "" {
		return invalidf("%s note requires a reference", kind)
	}
	if err := c.guard.ValidateMediaReference(ref, kind); err != nil {
		if errors.Is(err, security.ErrInvalidReference) {
			return invalidf("%v", err)
		}
		return err
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ Codec[model.Task, TaskPatch] = TaskCodec{}
	_ Codec[model.Goal, GoalPatch] = GoalCodec{}
	_ Codec[model.Note, NotePatch] = NoteCodec{}
)
