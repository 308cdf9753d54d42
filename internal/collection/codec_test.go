package collection

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/planner/internal/docstore"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/security"
)

func newTestNoteCodec() NoteCodec {
	c := NewNoteCodec(WireRFC3339, security.NewContentSanitizer(), security.NewOutboundGuard())
	c.now = func() time.Time { return march1 }
	return c
}

func ptr[T any](v T) *T { return &v }

const pngDataURL = "data:image/png;base64,iVBORw0KGgo="

// TestGoalCodec_DecodeNormalizesProgress は進捗が数値に変換され、範囲外は丸められることを検証する。
func TestGoalCodec_DecodeNormalizesProgress(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"missing", nil, 0},
		{"int", 40, 40},
		{"float", 40.6, 41},
		{"json number", json.Number("75"), 75},
		{"numeric string", "60", 60},
		{"non numeric", "abc", 0},
		{"above max", 150, 100},
		{"below min", -5, 0},
		{"bool", true, 0},
	}

	codec := NewGoalCodec(WireRFC3339)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := map[string]any{"title": "g"}
			if tt.value != nil {
				data["progress"] = tt.value
			}
			got := codec.Decode(docstore.Document{ID: "1", Data: data})
			if got.Progress != tt.want {
				t.Errorf("progress = %d, want %d", got.Progress, tt.want)
			}
		})
	}
}

// TestGoalCodec_ClampsOnWrite は書き込み時に進捗が丸められることを検証する。
func TestGoalCodec_ClampsOnWrite(t *testing.T) {
	codec := NewGoalCodec(WireRFC3339)

	fields, err := codec.EncodePatch(GoalPatch{Progress: ptr(150)})
	if err != nil {
		t.Fatalf("EncodePatch() error = %v", err)
	}
	if fields["progress"] != 100 {
		t.Errorf("progress = %v, want 100", fields["progress"])
	}

	fields, _ = codec.Encode(model.Goal{Title: "g", OwnerID: "a", Progress: -5})
	if fields["progress"] != 0 {
		t.Errorf("progress = %v, want 0", fields["progress"])
	}
}

// TestTaskCodec_EncodeValidates は所有者とタイトルが必須であることを検証する。
func TestTaskCodec_EncodeValidates(t *testing.T) {
	codec := NewTaskCodec(WireEpochMillis)

	if _, err := codec.Encode(model.Task{Title: "t"}); !errors.Is(err, docstore.ErrInvalidDocument) {
		t.Errorf("missing owner error = %v", err)
	}
	if _, err := codec.Encode(model.Task{OwnerID: "a", Title: "  "}); !errors.Is(err, docstore.ErrInvalidDocument) {
		t.Errorf("blank title error = %v", err)
	}

	fields, err := codec.Encode(model.Task{OwnerID: "a", Title: "t", DueDate: march1})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if fields["dueDate"] != int64(1709251200000) {
		t.Errorf("dueDate = %#v, want epoch millis", fields["dueDate"])
	}
	if fields[FieldOwner] != "a" {
		t.Errorf("userId = %v, want a", fields[FieldOwner])
	}
}

// TestTaskCodec_PatchWritesOnlyGivenFields は部分更新が指定フィールドだけを含むことを検証する。
func TestTaskCodec_PatchWritesOnlyGivenFields(t *testing.T) {
	codec := NewTaskCodec(WireRFC3339)
	fields, err := codec.EncodePatch(TaskPatch{Completed: ptr(true)})
	if err != nil {
		t.Fatalf("EncodePatch() error = %v", err)
	}
	if len(fields) != 1 || fields["completed"] != true {
		t.Errorf("fields = %v, want only completed", fields)
	}
}

// TestNoteCodec_EncodeValidatesKindAndPayload は種類とペイロードの整合性検証を検証する。
func TestNoteCodec_EncodeValidatesKindAndPayload(t *testing.T) {
	tests := []struct {
		name    string
		note    model.Note
		wantErr bool
	}{
		{"text", model.Note{Kind: model.NoteKindText, Content: "buy milk"}, false},
		{"text without content", model.Note{Kind: model.NoteKindText, Content: "<b></b>"}, true},
		{"text with photo", model.Note{Kind: model.NoteKindText, Content: "x", PhotoRef: pngDataURL}, true},
		{"photo data url", model.Note{Kind: model.NoteKindPhoto, PhotoRef: pngDataURL}, false},
		{"photo https", model.Note{Kind: model.NoteKindPhoto, PhotoRef: "https://images.example.com/a.png"}, false},
		{"photo http", model.Note{Kind: model.NoteKindPhoto, PhotoRef: "http://images.example.com/a.png"}, true},
		{"photo private host", model.Note{Kind: model.NoteKindPhoto, PhotoRef: "https://10.0.0.1/a.png"}, true},
		{"photo with audio data url", model.Note{Kind: model.NoteKindPhoto, PhotoRef: "data:audio/webm;base64,AAAA"}, true},
		{"audio", model.Note{Kind: model.NoteKindAudio, AudioRef: "data:audio/webm;base64,AAAA"}, false},
		{"audio missing", model.Note{Kind: model.NoteKindAudio}, true},
		{"unknown kind", model.Note{Kind: "video", Content: "x"}, true},
	}

	codec := newTestNoteCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.note.Title = "note"
			tt.note.OwnerID = "a"
			_, err := codec.Encode(tt.note)
			if tt.wantErr {
				if !errors.Is(err, docstore.ErrInvalidDocument) {
					t.Errorf("Encode() error = %v, want ErrInvalidDocument", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Encode() error = %v", err)
			}
		})
	}
}

// TestNoteCodec_EncodeSanitizesAndStamps はテキストのサニタイズと作成日時の補完を検証する。
func TestNoteCodec_EncodeSanitizesAndStamps(t *testing.T) {
	codec := newTestNoteCodec()
	fields, err := codec.Encode(model.Note{
		Title:   "<script>alert(1)</script>Groceries",
		Kind:    model.NoteKindText,
		Content: "<b>buy</b> milk &amp; eggs",
		OwnerID: "a",
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if fields["title"] != "Groceries" {
		t.Errorf("title = %q, want %q", fields["title"], "Groceries")
	}
	if fields["content"] != "buy milk & eggs" {
		t.Errorf("content = %q, want %q", fields["content"], "buy milk & eggs")
	}
	if fields["createdAt"] != "2024-03-01T00:00:00Z" {
		t.Errorf("createdAt = %v, want stamped now", fields["createdAt"])
	}
	if fields["photoUrl"] != "" || fields["audioData"] != "" {
		t.Errorf("other payloads must be empty: %v", fields)
	}
}

// TestNoteCodec_PatchRequiresKindForPayload はペイロード変更に種類の指定が必要なことを検証する。
func TestNoteCodec_PatchRequiresKindForPayload(t *testing.T) {
	codec := newTestNoteCodec()

	if _, err := codec.EncodePatch(NotePatch{Content: ptr("new")}); !errors.Is(err, docstore.ErrInvalidDocument) {
		t.Errorf("EncodePatch() error = %v, want ErrInvalidDocument", err)
	}

	fields, err := codec.EncodePatch(NotePatch{Kind: ptr(model.NoteKindPhoto), PhotoRef: ptr(pngDataURL)})
	if err != nil {
		t.Fatalf("EncodePatch() error = %v", err)
	}
	if fields["type"] != "photo" || fields["photoUrl"] != pngDataURL || fields["content"] != "" {
		t.Errorf("unexpected fields: %v", fields)
	}

	fields, err = codec.EncodePatch(NotePatch{Title: ptr("renamed")})
	if err != nil || len(fields) != 1 {
		t.Errorf("title-only patch = %v, %v", fields, err)
	}
}

// TestNoteCodec_DecodeKeepsOnlyMatchingPayload は種類に対応するペイロードだけが読まれることを検証する。
func TestNoteCodec_DecodeKeepsOnlyMatchingPayload(t *testing.T) {
	codec := newTestNoteCodec()
	note := codec.Decode(docstore.Document{ID: "n1", Data: map[string]any{
		"title":     "pic",
		"type":      "photo",
		"content":   "stale text",
		"photoUrl":  pngDataURL,
		"createdAt": map[string]any{"seconds": json.Number("1709251200"), "nanoseconds": json.Number("0")},
		"userId":    "a",
	}})

	if note.Kind != model.NoteKindPhoto || note.PhotoRef != pngDataURL {
		t.Errorf("unexpected note: %+v", note)
	}
	if note.Content != "" {
		t.Errorf("content = %q, want empty for photo note", note.Content)
	}
	if !note.CreatedAt.Equal(march1) {
		t.Errorf("createdAt = %v, want %v", note.CreatedAt, march1)
	}
}

// TestTaskCodec_DecodeUnreadableInstantIsZero は解釈できない日時がゼロ値になることを検証する。
func TestTaskCodec_DecodeUnreadableInstantIsZero(t *testing.T) {
	task := NewTaskCodec(WireRFC3339).Decode(docstore.Document{ID: "t", Data: map[string]any{
		"title":     "t",
		"dueDate":   "someday",
		"completed": "true",
	}})
	if !task.DueDate.IsZero() {
		t.Errorf("dueDate = %v, want zero", task.DueDate)
	}
	if !task.Completed {
		t.Error("completed should accept a boolean string")
	}
}
