package directory

import "go.uber.org/fx"

// Module provides the directory service to Fx.
var Module = fx.Provide(NewService)
