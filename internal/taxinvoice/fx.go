package taxinvoice

import (
	"github.com/smallbiznis/contentmarket/internal/taxinvoice/render"
	"github.com/smallbiznis/contentmarket/internal/taxinvoice/repository"
	"github.com/smallbiznis/contentmarket/internal/taxinvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("taxinvoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(render.New),
	fx.Provide(service.New),
)
