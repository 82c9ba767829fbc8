package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patrickfnielsen/access-portal/internal/util"
)

type AppOptions struct {
	Version float64
	Metrics bool

	// DebugEndpoints exposes raw upstream answers, keep off in production.
	DebugEndpoints bool

	// StaticDir serves the portal pages when set.
	StaticDir string
}

// NewApp builds the fiber app with the portal routes and middleware.
func NewApp(routes *PortalRoutes, options AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          util.CustomErrorHandler,
		DisableStartupMessage: true,
		AppName:               "Access Portal",
		ServerHeader:          fmt.Sprintf("Access Portal - %.1f", options.Version),
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "POST, GET, OPTIONS",
		AllowHeaders: "Content-Type",
	}))

	if options.Metrics {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	// mounted with and without the /api prefix the pages were built against
	for _, prefix := range []string{"/api", ""} {
		app.Get(prefix+"/validate-email", routes.ValidateEmailProbe)
		app.Post(prefix+"/validate-email", routes.ValidateEmail)
		app.Get(prefix+"/support", routes.Support)

		if options.DebugEndpoints {
			app.Get(prefix+"/debug-validation", routes.DebugValidation)
		}
	}

	if options.StaticDir != "" {
		app.Static("/", options.StaticDir)
	}

	return app
}
