package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Severity levels for enqueued notifications.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Notification is a queued message for a user. Delivery is handled by a
// downstream sink; the ledger only enqueues.
type Notification struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	UserID     snowflake.ID      `gorm:"not null;index"`
	Title      string            `gorm:"type:text;not null"`
	Body       string            `gorm:"type:text;not null"`
	Severity   string            `gorm:"type:text;not null"`
	Source     string            `gorm:"type:text;not null"`
	Metadata   datatypes.JSONMap `gorm:"not null"`
	DedupeKey  *string           `gorm:"type:text;uniqueIndex"`
	Dispatched bool              `gorm:"not null;default:false"`
	CreatedAt  time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

// Message is the enqueue request.
type Message struct {
	UserID    snowflake.ID
	Title     string
	Body      string
	Severity  string
	Source    string
	Metadata  map[string]any
	DedupeKey string
}

// Outbox inserts notifications outside the financial transaction. Failures
// are logged and swallowed; a lost notification never rolls back a commit.
type Outbox struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, log *zap.Logger, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, log: log.Named("notification.outbox"), genID: genID}
}

// Enqueue stores a notification best-effort.
func (o *Outbox) Enqueue(ctx context.Context, msg Message) {
	if err := o.enqueue(ctx, msg); err != nil {
		o.log.Warn("notification enqueue failed",
			zap.String("source", msg.Source),
			zap.String("title", msg.Title),
			zap.Error(err),
		)
	}
}

func (o *Outbox) enqueue(ctx context.Context, msg Message) error {
	if o == nil || o.db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if msg.UserID == 0 {
		return errors.New("invalid_user_id")
	}
	title := strings.TrimSpace(msg.Title)
	if title == "" {
		return errors.New("missing_title")
	}
	severity := strings.TrimSpace(msg.Severity)
	if severity == "" {
		severity = SeverityInfo
	}

	metadata := datatypes.JSONMap{}
	for key, value := range msg.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		metadata[key] = value
	}

	row := Notification{
		ID:        o.genID.Generate(),
		UserID:    msg.UserID,
		Title:     title,
		Body:      strings.TrimSpace(msg.Body),
		Severity:  severity,
		Source:    strings.TrimSpace(msg.Source),
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if dedupe := strings.TrimSpace(msg.DedupeKey); dedupe != "" {
		row.DedupeKey = &dedupe
	}

	return o.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}
