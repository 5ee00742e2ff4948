package document

import "go.uber.org/fx"

// Module provides the document service to Fx.
var Module = fx.Provide(NewService)
