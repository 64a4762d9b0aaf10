package notification

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sink receives dispatched notifications. The default sink only logs;
// deployments plug in mail or chat delivery here.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

type logSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) Sink {
	return &logSink{log: log.Named("notification.sink")}
}

func (s *logSink) Deliver(_ context.Context, n Notification) error {
	s.log.Info("notification",
		zap.String("user_id", n.UserID.String()),
		zap.String("severity", n.Severity),
		zap.String("title", n.Title),
	)
	return nil
}

// Config controls the dispatch worker loop.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		PollInterval: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	return c
}

type WorkerParams struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Sink   Sink
	Config Config `optional:"true"`
}

// Worker drains undispatched notifications into the sink.
type Worker struct {
	db   *gorm.DB
	log  *zap.Logger
	sink Sink
	cfg  Config
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		db:   p.DB,
		log:  p.Log.Named("notification.worker"),
		sink: p.Sink,
		cfg:  p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("notification dispatch run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce dispatches one batch and returns how many rows were handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if w.db == nil || w.sink == nil {
		return 0, errors.New("notification_worker_unavailable")
	}

	var pending []Notification
	err := w.db.WithContext(ctx).
		Where("dispatched = ?", false).
		Order("created_at ASC, id ASC").
		Limit(w.cfg.BatchSize).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, row := range pending {
		if err := w.sink.Deliver(ctx, row); err != nil {
			w.log.Warn("notification delivery failed",
				zap.String("id", row.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if err := w.db.WithContext(ctx).
			Model(&Notification{}).
			Where("id = ?", row.ID).
			Update("dispatched", true).Error; err != nil {
			return dispatched, err
		}
		dispatched++
	}
	return dispatched, nil
}
