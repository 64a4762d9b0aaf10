package logger

import (
	"github.com/hochk2019/congno/internal/config"
	"go.uber.org/zap"
)

// New builds the process logger. Production uses the JSON encoder,
// everything else gets the development console encoder.
func New(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
