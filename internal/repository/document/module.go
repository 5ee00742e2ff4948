package document

import "go.uber.org/fx"

// Module provides the document repository to Fx.
var Module = fx.Provide(NewRepository)
