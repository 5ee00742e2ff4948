package directory

import "go.uber.org/fx"

// Module provides the directory repository to Fx.
var Module = fx.Provide(NewRepository)
