package gateway

import (
	"github.com/smallbiznis/contentmarket/internal/gateway/client"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.client",
	fx.Provide(client.NewClient),
	fx.Provide(func(c *client.Client) gatewaydomain.Client { return c }),
)
