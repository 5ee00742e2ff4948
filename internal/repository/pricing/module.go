package pricing

import "go.uber.org/fx"

// Module provides the pricing repository to Fx.
var Module = fx.Provide(NewRepository)
