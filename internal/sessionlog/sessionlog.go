// Package sessionlog implements the webhook intake and session materialization
// named in SPEC_FULL.md's Session Log component: session/action/message
// store-through with placeholder-session creation, fenced-code-block
// extraction into CodeSnippet rows, and session-export Document synthesis
// fed back into the ingestion orchestrator on session_end.
package sessionlog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"finderskeepers/internal/ingestion"
	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
)

// Logger writes session events through to RecordStore and enqueues
// session-export documents with the ingestion orchestrator once a session
// ends.
type Logger struct {
	records      databases.RecordStore
	orchestrator *ingestion.Orchestrator
	now          func() time.Time
}

func New(records databases.RecordStore, orchestrator *ingestion.Orchestrator) *Logger {
	return &Logger{records: records, orchestrator: orchestrator, now: time.Now}
}

// SessionEvent mirrors the POST /webhook/session-logger body in spec.md 6.2.
type SessionEvent struct {
	ActionType string // session_start | session_end | session_resume
	SessionID  string
	AgentType  string
	UserID     string
	Project    string
	Reason     string
	Context    map[string]string
}

// ActionEvent mirrors the POST /webhook/action-tracker body, with an
// optional embedded ConversationMessage per spec.md 6.2.
type ActionEvent struct {
	ActionID      string
	SessionID     string
	ActionType    string
	Description   string
	Details       map[string]string
	FilesAffected []string
	Success       bool
	MessageType   string // set only when this event also carries a message
	Content       string
}

func genID(prefix string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// HandleSessionEvent implements the session_start/session_end/session_resume
// rules of spec.md 4.8: webhooks never fail on a missing session_id, ends
// are idempotent, and session_end synthesizes and enqueues the session-export
// Document.
func (l *Logger) HandleSessionEvent(ctx context.Context, ev SessionEvent) error {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = genID("sess")
	}

	switch ev.ActionType {
	case "session_start", "session_resume":
		existing, found, err := l.records.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if found && ev.ActionType == "session_resume" {
			existing.EndedAt = time.Time{}
			return l.records.UpsertSession(ctx, existing)
		}
		if found {
			return nil
		}
		return l.records.UpsertSession(ctx, model.Session{
			ID:        sessionID,
			Project:   ev.Project,
			AgentName: ev.AgentType,
			StartedAt: l.now(),
			Metadata:  ev.Context,
		})

	case "session_end":
		sess, found, err := l.records.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			sess = model.Session{ID: sessionID, Project: ev.Project, AgentName: ev.AgentType, StartedAt: l.now()}
		}
		if !sess.EndedAt.IsZero() {
			// Idempotent: a repeated session_end must not overwrite the
			// earlier end_time.
			return nil
		}
		sess.EndedAt = l.now()
		sess.Summary = sessionEndSummary(ev.Reason)
		if err := l.records.UpsertSession(ctx, sess); err != nil {
			return err
		}
		return l.exportSession(ctx, sess)

	default:
		return fmt.Errorf("sessionlog: unknown action_type %q", ev.ActionType)
	}
}

// HandleActionEvent inserts an Action row, creating a placeholder Session
// first when session_id is unknown (webhooks must never fail on a missing
// referent, per spec.md 4.8). When the event also carries a message, it is
// recorded too, with any fenced code blocks split into CodeSnippet rows.
func (l *Logger) HandleActionEvent(ctx context.Context, ev ActionEvent) error {
	if err := l.ensureSession(ctx, ev.SessionID); err != nil {
		return err
	}

	actionID := ev.ActionID
	if actionID == "" {
		actionID = genID("action")
	}
	detail := ""
	if len(ev.Details) > 0 {
		parts := make([]string, 0, len(ev.Details))
		for k, v := range ev.Details {
			parts = append(parts, k+"="+v)
		}
		sort.Strings(parts)
		detail = strings.Join(parts, " ")
	}
	if err := l.records.AppendAction(ctx, model.Action{
		ID:        actionID,
		SessionID: ev.SessionID,
		Kind:      ev.ActionType,
		Target:    strings.Join(ev.FilesAffected, ","),
		Detail:    ev.Description + " " + detail,
		Success:   ev.Success,
		CreatedAt: l.now(),
	}); err != nil {
		return err
	}

	if ev.MessageType == "" && ev.Content == "" {
		return nil
	}
	return l.recordMessage(ctx, ev.SessionID, ev.MessageType, ev.Content)
}

func (l *Logger) ensureSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionlog: action event missing session_id")
	}
	_, found, err := l.records.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return l.records.UpsertSession(ctx, model.Session{
		ID:          sessionID,
		StartedAt:   l.now(),
		Placeholder: true,
	})
}

var fencedCodeRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")

// recordMessage inserts a ConversationMessage and, for each fenced code
// block in its content, a CodeSnippet row.
func (l *Logger) recordMessage(ctx context.Context, sessionID, messageType, content string) error {
	messageID := genID("msg")
	if err := l.records.AppendMessage(ctx, model.ConversationMessage{
		ID:        messageID,
		SessionID: sessionID,
		Role:      messageType,
		Content:   content,
		CreatedAt: l.now(),
	}); err != nil {
		return err
	}

	for _, m := range fencedCodeRe.FindAllStringSubmatch(content, -1) {
		lang, code := m[1], m[2]
		if err := l.records.AppendCodeSnippet(ctx, model.CodeSnippet{
			ID:        genID("snippet"),
			SessionID: sessionID,
			MessageID: messageID,
			Language:  lang,
			Code:      code,
			CreatedAt: l.now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func sessionEndSummary(reason string) string {
	if reason == "" || reason == "work_complete" {
		return "ended normally"
	}
	return "ended: " + reason
}

// exportSession synthesizes a single Document summarizing the session
// (metadata + chronologically ordered messages + action list) and enqueues
// it for ingestion with doc_type=session-export, per spec.md 4.8's closing
// rule — this is the mechanism by which conversations become searchable.
func (l *Logger) exportSession(ctx context.Context, sess model.Session) error {
	if l.orchestrator == nil {
		return nil
	}
	messages, err := l.records.ListSessionMessages(ctx, sess.ID)
	if err != nil {
		return err
	}
	actions, err := l.records.ListSessionActions(ctx, sess.ID)
	if err != nil {
		return err
	}

	body := renderSessionExport(sess, messages, actions)
	_, err = l.orchestrator.IngestItem(ctx, ingestion.Item{
		Project:     sess.Project,
		Filename:    fmt.Sprintf("session-%s.md", sess.ID),
		URL:         "session://" + sess.ID,
		Data:        []byte(body),
		DocTypeHint: "session-export",
		Priority:    ingestion.PriorityNormal,
	})
	return err
}

func renderSessionExport(sess model.Session, messages []model.ConversationMessage, actions []model.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "agent: %s\nproject: %s\nstarted: %s\nended: %s\nsummary: %s\n\n",
		sess.AgentName, sess.Project, sess.StartedAt.UTC().Format(time.RFC3339), sess.EndedAt.UTC().Format(time.RFC3339), sess.Summary)

	b.WriteString("## Conversation\n\n")
	sorted := append([]model.ConversationMessage(nil), messages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	for _, m := range sorted {
		fmt.Fprintf(&b, "**%s** (%s): %s\n\n", m.Role, m.CreatedAt.UTC().Format(time.RFC3339), m.Content)
	}

	b.WriteString("## Actions\n\n")
	sortedActions := append([]model.Action(nil), actions...)
	sort.Slice(sortedActions, func(i, j int) bool { return sortedActions[i].CreatedAt.Before(sortedActions[j].CreatedAt) })
	for _, a := range sortedActions {
		fmt.Fprintf(&b, "- [%t] %s: %s (%s)\n", a.Success, a.Kind, a.Detail, a.Target)
	}
	return b.String()
}
