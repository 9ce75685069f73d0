package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

func main() {
	app := mustBootstrapFulfillAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fulfill-api stopped", "err", err)
		os.Exit(1)
	}
}
