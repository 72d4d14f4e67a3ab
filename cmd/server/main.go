package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveclass-service/internal/factory"
	"liveclass-service/internal/handler"
	"liveclass-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	// Background workers: the liveness poller and the daily standing
	// session job. Both stop when this context is cancelled.
	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	go f.Reconciler().Run(backgroundCtx)
	go f.DailyScheduler().Run(backgroundCtx)

	router := setupRouter(f)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server, stopBackground)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	serviceFactory := f.ServiceFactory()
	cfg := f.Config()

	sessionHandler := handler.NewSessionHandler(serviceFactory.SessionService(), util.Get())
	adminHandler := handler.NewAdminHandler(
		serviceFactory.SessionService(),
		serviceFactory.PermissionService(),
		cfg.Provider.Tag,
		util.Get(),
	)
	webhookHandler := handler.NewWebhookHandler(f.Reconciler(), cfg.Provider.WebhookSecret, util.Get())

	return handler.NewRouter(sessionHandler, adminHandler, webhookHandler, util.Get())
}

func waitForShutdown(f *factory.Factory, server *http.Server, stopBackground context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	// Stop the workers first so no transition lands mid-shutdown.
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}

	f.Close()
}
