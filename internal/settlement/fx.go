package settlement

import (
	"time"

	"github.com/smallbiznis/contentmarket/internal/config"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	"github.com/smallbiznis/contentmarket/internal/settlement/domain"
	"github.com/smallbiznis/contentmarket/internal/settlement/repository"
	"github.com/smallbiznis/contentmarket/internal/settlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(fx.Annotate(
		func(cfg config.Config) (*time.Location, error) { return cfg.Settlement.Location() },
		fx.ResultTags(`name:"settlement_location"`),
	)),
	fx.Provide(service.New),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) paymentdomain.SettlementRecorder { return s },
	),
)
