package http

import (
	"go.uber.org/fx"

	documenttransport "github.com/sudspoint/washcore/internal/transport/http/document"
	ordertransport "github.com/sudspoint/washcore/internal/transport/http/order"
	paymenttransport "github.com/sudspoint/washcore/internal/transport/http/payment"
	pricingtransport "github.com/sudspoint/washcore/internal/transport/http/pricing"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	pricingtransport.Module,
	ordertransport.Module,
	paymenttransport.Module,
	documenttransport.Module,
)
