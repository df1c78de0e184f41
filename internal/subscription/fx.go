package subscription

import (
	"github.com/smallbiznis/schoolhub/internal/gateway"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	"github.com/smallbiznis/schoolhub/internal/subscription/repository"
	"github.com/smallbiznis/schoolhub/internal/subscription/service"
	"github.com/smallbiznis/schoolhub/internal/subscription/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *gateway.Client) subscriptiondomain.PaymentGateway { return c }),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewReconciler),
)
