package main

import (
	"context"
	"errors"
	"os"
	"time"

	"log/slog"

	"github.com/patrickfnielsen/access-portal/internal/config"
	"github.com/patrickfnielsen/access-portal/internal/handlers"
	"github.com/patrickfnielsen/access-portal/internal/util"
	"github.com/patrickfnielsen/access-portal/pkg/access"
)

func main() {
	logger := util.SetupLogger(config.LogLevel, config.Enviroment)
	logger.Info("starting access portal",
		slog.Float64("version", config.VERSION),
		slog.String("environment", config.Enviroment),
		slog.String("log_level", config.LogLevel.String()),
		slog.String("access_policy", config.AccessPolicy),
		slog.Bool("tier_inheritance", config.TierInheritance),
		slog.Duration("upstream_timeout", config.UpstreamTimeout),
		slog.Bool("audit_log_http", config.AuditLogHTTP),
		slog.Bool("audit_log_console", config.AuditLogConsole),
		slog.Bool("debug_endpoints", config.DebugEndpoints),
	)

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	resources := config.Resources()
	for _, r := range resources {
		if r.URL == "" {
			// serve anyway, validations answer with a configuration error
			logger.Warn("upstream endpoint not configured", slog.String("resource", r.Name))
		}
	}

	evaluator, err := setupEvaluator(ctx)
	if err != nil {
		logger.Error("failed to setup access evaluator", slog.String("error", err.Error()))
		panic(err)
	}

	var auditEndpoint string
	if config.AuditLogServer != "" {
		auditEndpoint = util.FormatURL(config.AuditLogServer, config.AuditLogServerEndpoint, config.AuditLogServerTLS)
	}

	client, err := access.New(&access.Config{
		Resources:   resources,
		Timeout:     config.UpstreamTimeout,
		Evaluator:   evaluator,
		Inheritance: config.TierInheritance,
		AuditLog: access.AuditLogConfig{
			ConsoleLog:  config.AuditLogConsole,
			HTTPLog:     config.AuditLogHTTP,
			Endpoint:    auditEndpoint,
			BearerToken: config.AuditLogServerToken,
		},
	})
	if err != nil {
		logger.Error("failed to start access client", slog.String("error", err.Error()))
		panic(err)
	}

	routes := &handlers.PortalRoutes{
		Access:          client,
		SupportWhatsApp: config.SupportWhatsApp,
	}
	app := handlers.NewApp(routes, handlers.AppOptions{
		Version:        config.VERSION,
		DebugEndpoints: config.DebugEndpoints,
		Metrics:        config.Metrics,
		StaticDir:      config.StaticDir,
	})

	// listen for system interrupts like ctrl+c
	quit := make(chan struct{})
	cleanup := func() {
		if ctx.Err() != nil {
			return
		}

		//shutdown down services gracefully
		logger.Info("service shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 10*time.Second)
		defer cancelShutdown()

		err := client.Close(shutdownCtx)
		err = errors.Join(app.Shutdown(), err)
		if err != nil {
			logger.Error("service shutdown with errors", slog.String("error", err.Error()))
		}

		// cancel the context and anything waiting for it
		cancelCtx()
		close(quit)
	}

	go util.MonitorSystemSignals(ctx, func(s os.Signal) {
		cleanup()
	})

	// start the app and handles errors
	err = app.Listen(config.Listen)
	if err != nil {
		logger.Error("service exited in a non-standard way", slog.String("error", err.Error()))
		cleanup()
	}

	// wait for shutdown
	<-quit
}

// setupEvaluator picks the heuristic or, for the rego policy, loads the
// policy file and starts the repository updater.
func setupEvaluator(ctx context.Context) (access.Evaluator, error) {
	policy, err := access.ParsePolicy(config.AccessPolicy)
	if err != nil {
		return nil, err
	}

	if policy != access.PolicyRego {
		return access.HeuristicEvaluator{Policy: policy}, nil
	}

	evaluator, err := access.NewRegoEvaluator(config.PolicyPath)
	if err != nil {
		return nil, err
	}

	if config.PolicyFile != "" {
		data, err := os.ReadFile(config.PolicyFile)
		if err != nil {
			return nil, err
		}
		if err := evaluator.Activate(ctx, config.PolicyFile, string(data)); err != nil {
			return nil, err
		}
		slog.Info("policy loaded", slog.String("file", config.PolicyFile))
	}

	if config.PolicyRepository != "" {
		updater := access.NewPolicyUpdater(
			config.PolicyRepository,
			config.PolicyRepositoryKey,
			config.PolicyRepositoryBranch,
			func(ctx context.Context, b []access.PolicyBundle) {
				for i := 0; i < len(b); i++ {
					slog.Info("policy update", slog.String("name", b[i].Name))

					err := evaluator.Activate(ctx, b[i].Name, string(b[i].Data))
					if err != nil {
						slog.Error("failed to activate policy", slog.String("name", b[i].Name), slog.String("error", err.Error()))
						return
					}
				}
			},
		)

		// sync the initial policies, and then start a periodic sync afterwards
		if err := updater.RunUpdate(ctx); err != nil {
			return nil, err
		}

		go updater.Start(ctx)
	}

	if !evaluator.Ready() {
		slog.Warn("rego policy selected but no policy loaded, validations will be refused")
	}

	return evaluator, nil
}
