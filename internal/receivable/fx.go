package receivable

import (
	"github.com/hochk2019/congno/internal/receivable/service"
	"go.uber.org/fx"
)

var Module = fx.Module("receivable",
	fx.Provide(service.NewService),
)
