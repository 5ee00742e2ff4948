package main

import (
	"go.uber.org/fx"

	"github.com/sudspoint/washcore/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
