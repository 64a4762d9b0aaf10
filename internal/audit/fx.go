package audit

import (
	"github.com/hochk2019/congno/internal/audit/repository"
	"github.com/hochk2019/congno/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
