package payment

import (
	"github.com/smallbiznis/contentmarket/internal/payment/repository"
	paymentservice "github.com/smallbiznis/contentmarket/internal/payment/service"
	"github.com/smallbiznis/contentmarket/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewCoordinator),
	fx.Provide(paymentservice.NewProcessor),
	fx.Provide(webhook.NewService),
)
