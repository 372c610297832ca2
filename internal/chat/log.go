// Package chat keeps the append-only chat history of a session view and gates outbound
// messages through contact-info moderation.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/coord"
	"github.com/charlesng35/liveclass/internal/dedup"
	"github.com/charlesng35/liveclass/internal/moderation"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	DefaultMaxLength = 4000
	DefaultNoticeTTL = 5 * time.Second
)

var (
	ErrEmptyMessage   = apperrors.ErrBadRequest.WithMessage("Message is empty")
	ErrMessageTooLong = apperrors.ErrBadRequest.WithMessage("Message is too long")
)

// Entry is one chat line.
type Entry struct {
	ID                uuid.UUID   `json:"id"`
	SenderID          string      `json:"sender_id"`
	SenderDisplayName string      `json:"sender_display_name"`
	Role              roster.Role `json:"role"`
	Text              string      `json:"text"`
	SentAt            time.Time   `json:"sent_at"`
	IsLocalEcho       bool        `json:"is_local_echo"`
}

// Notice is the transient warning shown after a blocked message.
type Notice struct {
	Severity  moderation.Severity `json:"severity"`
	Message   string              `json:"message"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Outcome describes what Send did with a message.
type Outcome struct {
	Entry      *Entry
	Blocked    bool
	Moderation moderation.Result
}

// Config wires a Log.
type Config struct {
	SelfID        string
	DisplayName   string
	Role          roster.Role
	Publisher     coord.Publisher
	Roles         coord.Roles
	Reporter      moderation.Reporter
	DedupCapacity int
	MaxLength     int
	NoticeTTL     time.Duration
	Clock         func() time.Time
	SessionID     string
}

// Log is the chat history of one session view.
type Log struct {
	cfg    Config
	clock  func() time.Time
	seen   *dedup.Cache
	notify *coord.Notifier
	log    *zap.Logger

	mu          sync.Mutex
	entries     []Entry
	notice      *Notice
	noticeTimer *time.Timer
}

// New constructs an empty chat log.
func New(cfg Config) *Log {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = DefaultNoticeTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Log{
		cfg:    cfg,
		clock:  clock,
		seen:   dedup.New(cfg.DedupCapacity),
		notify: coord.NewNotifier(),
		log:    logger.WithSession("chat", cfg.SessionID),
	}
}

// Send moderates text and, if it passes, publishes it and appends the local echo. A blocked
// message is not an error: nothing is sent or appended and a transient notice is raised.
func (l *Log) Send(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > l.cfg.MaxLength {
		return Outcome{}, ErrMessageTooLong
	}

	result := moderation.Detect(text)
	if result.Blocks() {
		l.block(text, result)
		return Outcome{Blocked: true, Moderation: result}, nil
	}

	now := l.clock()
	payload := signaling.ChatPayload{
		Sender:    l.cfg.DisplayName,
		Text:      text,
		Role:      string(l.cfg.Role),
		Timestamp: now.UnixMilli(),
	}
	if err := l.cfg.Publisher.PublishTo(ctx, payload); err != nil {
		return Outcome{Moderation: result}, err
	}

	// The transport loops our own message back; recording its key drops that copy.
	l.seen.Observe(entryKey(l.cfg.SelfID, payload.Timestamp, text))
	entry := Entry{
		ID:                uuid.New(),
		SenderID:          l.cfg.SelfID,
		SenderDisplayName: l.cfg.DisplayName,
		Role:              l.cfg.Role,
		Text:              text,
		SentAt:            time.UnixMilli(payload.Timestamp),
		IsLocalEcho:       true,
	}
	l.append(entry)
	return Outcome{Entry: &entry, Moderation: result}, nil
}

// Apply deduplicates and appends one inbound chat message. Inbound text is not moderated.
func (l *Log) Apply(msg signaling.Message) bool {
	payload, err := signaling.Decode[signaling.ChatPayload](msg)
	if err != nil {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "malformed")
		l.log.Debug("dropping malformed chat", zap.String("sender_id", msg.SenderID), zap.Error(err))
		return false
	}
	if coord.IsObserver(l.cfg.Roles, msg.SenderID) {
		return false
	}
	if !l.seen.Observe(entryKey(msg.SenderID, payload.Timestamp, payload.Text)) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "duplicate")
		return false
	}

	role := roster.Role(strings.ToLower(strings.TrimSpace(payload.Role)))
	if l.cfg.Roles != nil {
		if known, ok := l.cfg.Roles.RoleOf(msg.SenderID); ok {
			role = known
		}
	}
	l.append(Entry{
		ID:                uuid.New(),
		SenderID:          msg.SenderID,
		SenderDisplayName: strings.TrimSpace(payload.Sender),
		Role:              role,
		Text:              payload.Text,
		SentAt:            time.UnixMilli(payload.Timestamp),
	})
	return true
}

// Entries returns the history in receipt order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Notice returns the active moderation notice, if any.
func (l *Log) Notice() (Notice, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.notice == nil || !l.clock().Before(l.notice.ExpiresAt) {
		return Notice{}, false
	}
	return *l.notice, true
}

// Changes fires after the history or the notice changes.
func (l *Log) Changes() <-chan struct{} {
	return l.notify.C()
}

// Run appends inbound chat until ctx is cancelled or msgs closes.
func (l *Log) Run(ctx context.Context, msgs <-chan signaling.Message) error {
	return coord.Loop(ctx, msgs, nil, func(msg signaling.Message) { l.Apply(msg) }, func(string) {}, nil)
}

// Close stops the notice timer.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.noticeTimer != nil {
		l.noticeTimer.Stop()
		l.noticeTimer = nil
	}
}

func (l *Log) append(entry Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	l.notify.Notify()
}

func (l *Log) block(text string, result moderation.Result) {
	message := "This message looks like it shares contact details and was not sent."
	if result.Severity == moderation.SeverityCritical {
		message = "Sharing phone numbers or e-mail addresses is not allowed. Your message was not sent and has been reported."
	}

	l.mu.Lock()
	l.notice = &Notice{Severity: result.Severity, Message: message, ExpiresAt: l.clock().Add(l.cfg.NoticeTTL)}
	if l.noticeTimer != nil {
		l.noticeTimer.Stop()
	}
	l.noticeTimer = time.AfterFunc(l.cfg.NoticeTTL, l.clearNotice)
	l.mu.Unlock()
	l.notify.Notify()

	l.log.Info("outbound chat blocked",
		zap.String("participant_id", l.cfg.SelfID),
		zap.String("severity", result.Severity.String()),
		zap.Strings("patterns", result.MatchedPatterns),
	)
	moderation.Dispatch(l.cfg.Reporter, moderation.ViolationReport{
		SessionID:       l.cfg.SessionID,
		ParticipantID:   l.cfg.SelfID,
		DisplayName:     l.cfg.DisplayName,
		Role:            string(l.cfg.Role),
		OffendingText:   text,
		MatchedPatterns: result.MatchedPatterns,
		Severity:        result.Severity,
		OccurredAt:      l.clock(),
	})
}

func (l *Log) clearNotice() {
	l.mu.Lock()
	cleared := l.notice != nil
	l.notice = nil
	l.noticeTimer = nil
	l.mu.Unlock()
	if cleared {
		l.notify.Notify()
	}
}

func entryKey(senderID string, timestamp int64, text string) dedup.Key {
	return dedup.NewKey(senderID, time.UnixMilli(timestamp), string(signaling.TopicChat), text)
}
