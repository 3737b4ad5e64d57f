package feepolicy

import (
	"github.com/smallbiznis/contentmarket/internal/feepolicy/repository"
	"github.com/smallbiznis/contentmarket/internal/feepolicy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feepolicy.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
