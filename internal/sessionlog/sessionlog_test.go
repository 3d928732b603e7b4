package sessionlog

import (
	"context"
	"strings"
	"testing"

	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
)

func TestHandleActionEvent_CreatesPlaceholderSession(t *testing.T) {
	ctx := context.Background()
	records := databases.NewMemoryRecords()
	l := New(records, nil)

	err := l.HandleActionEvent(ctx, ActionEvent{
		SessionID:   "s-missing",
		ActionType:  "file_edit",
		Description: "edited a file",
		Success:     true,
	})
	if err != nil {
		t.Fatalf("HandleActionEvent: %v", err)
	}

	sess, found, err := records.GetSession(ctx, "s-missing")
	if err != nil || !found {
		t.Fatalf("expected placeholder session created: found=%v err=%v", found, err)
	}
	if !sess.Placeholder {
		t.Fatal("expected session marked as placeholder")
	}

	actions, err := records.ListSessionActions(ctx, "s-missing")
	if err != nil || len(actions) != 1 {
		t.Fatalf("expected one action recorded, got %d (err=%v)", len(actions), err)
	}
}

func TestHandleActionEvent_ExtractsFencedCodeBlocks(t *testing.T) {
	ctx := context.Background()
	records := &snippetRecorder{RecordStore: databases.NewMemoryRecords()}
	l := New(records, nil)

	content := "here's the fix:\n```python\nprint('hi')\n```\nthat should do it."
	err := l.HandleActionEvent(ctx, ActionEvent{
		SessionID:   "s1",
		ActionType:  "note",
		MessageType: "assistant",
		Content:     content,
	})
	if err != nil {
		t.Fatalf("HandleActionEvent: %v", err)
	}

	messages, err := records.ListSessionMessages(ctx, "s1")
	if err != nil || len(messages) != 1 {
		t.Fatalf("expected one message, got %d (err=%v)", len(messages), err)
	}
	if len(records.snippets) != 1 {
		t.Fatalf("expected one code snippet, got %d", len(records.snippets))
	}
	if records.snippets[0].Language != "python" || records.snippets[0].Code != "print('hi')\n" {
		t.Fatalf("unexpected snippet: %+v", records.snippets[0])
	}
}

// snippetRecorder keeps a copy of every code snippet written through it.
type snippetRecorder struct {
	databases.RecordStore
	snippets []model.CodeSnippet
}

func (r *snippetRecorder) AppendCodeSnippet(ctx context.Context, c model.CodeSnippet) error {
	r.snippets = append(r.snippets, c)
	return r.RecordStore.AppendCodeSnippet(ctx, c)
}

func TestHandleSessionEvent_EndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	records := databases.NewMemoryRecords()
	l := New(records, nil)

	if err := l.HandleSessionEvent(ctx, SessionEvent{ActionType: "session_start", SessionID: "s2", Project: "p"}); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	if err := l.HandleSessionEvent(ctx, SessionEvent{ActionType: "session_end", SessionID: "s2", Reason: "work_complete"}); err != nil {
		t.Fatalf("session_end: %v", err)
	}
	sess, _, _ := records.GetSession(ctx, "s2")
	firstEnd := sess.EndedAt

	if err := l.HandleSessionEvent(ctx, SessionEvent{ActionType: "session_end", SessionID: "s2", Reason: "crash"}); err != nil {
		t.Fatalf("second session_end: %v", err)
	}
	sess2, _, _ := records.GetSession(ctx, "s2")
	if !sess2.EndedAt.Equal(firstEnd) {
		t.Fatalf("expected end_time to stay at %v, got %v", firstEnd, sess2.EndedAt)
	}
}

func TestRenderSessionExport_IncludesMessagesAndActions(t *testing.T) {
	ctx := context.Background()
	records := databases.NewMemoryRecords()
	l := New(records, nil)

	if err := l.HandleSessionEvent(ctx, SessionEvent{ActionType: "session_start", SessionID: "s3", Project: "p"}); err != nil {
		t.Fatal(err)
	}
	if err := l.HandleActionEvent(ctx, ActionEvent{SessionID: "s3", ActionType: "edit", Description: "did a thing", Success: true}); err != nil {
		t.Fatal(err)
	}
	sess, _, _ := records.GetSession(ctx, "s3")
	messages, _ := records.ListSessionMessages(ctx, "s3")
	actions, _ := records.ListSessionActions(ctx, "s3")
	out := renderSessionExport(sess, messages, actions)
	if !strings.Contains(out, "did a thing") {
		t.Fatalf("expected export to mention the recorded action, got:\n%s", out)
	}
}
