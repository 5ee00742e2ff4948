package pricing

import "go.uber.org/fx"

// Module provides the pricing service to Fx.
var Module = fx.Provide(NewService)
