package billingkey

import (
	"github.com/smallbiznis/contentmarket/internal/billingkey/repository"
	"github.com/smallbiznis/contentmarket/internal/billingkey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingkey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
