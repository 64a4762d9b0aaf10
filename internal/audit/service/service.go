package service

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/audit/domain"
	"github.com/hochk2019/congno/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service writes and reads the audit trail. Log writes ride the caller's
// transaction; LogBestEffort swallows failures after a commit has already
// succeeded.
type Service interface {
	Log(ctx context.Context, tx *gorm.DB, action, targetType string, targetID *string, metadata map[string]any) error
	LogBestEffort(ctx context.Context, action, targetType string, targetID *string, metadata map[string]any)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error)
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *service) Log(ctx context.Context, tx *gorm.DB, action, targetType string, targetID *string, metadata map[string]any) error {
	if tx == nil {
		tx = s.db
	}
	return s.repo.Insert(ctx, tx, s.buildEntry(ctx, action, targetType, targetID, metadata))
}

func (s *service) LogBestEffort(ctx context.Context, action, targetType string, targetID *string, metadata map[string]any) {
	if err := s.repo.Insert(ctx, s.db, s.buildEntry(ctx, action, targetType, targetID, metadata)); err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.Error(err),
		)
	}
}

func (s *service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *service) buildEntry(ctx context.Context, action, targetType string, targetID *string, metadata map[string]any) *domain.AuditLog {
	entry := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(domain.ActorTypeSystem),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  time.Now().UTC(),
	}
	if actor, ok := identity.ActorFromContext(ctx); ok {
		entry.ActorType = string(domain.ActorTypeUser)
		actorID := strconv.FormatInt(actor.UserID, 10)
		entry.ActorID = &actorID
		entry.Metadata["actor_username"] = actor.Username
	}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		entry.Metadata[key] = value
	}
	return entry
}
