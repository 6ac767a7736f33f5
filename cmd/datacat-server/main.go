package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datacat/pkg/app"
	"datacat/pkg/config"
	"datacat/pkg/metrics"
	"datacat/pkg/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.datacat/config.yaml)")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Core Application
	application, err := app.NewApp(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to initialize app: %v", err)
	}
	defer application.Close()

	if err := run(ctx, application); err != nil {
		application.Log.Error("server exited", zap.Error(err))
		application.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, application *app.App) error {
	lg := application.Log
	addr := viper.GetString("server.addr")
	metricsAddr := viper.GetString("server.metrics_addr")

	// 3. Setup Network
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	grpcServer := server.New(application.Catalog, lg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	// 4. Start Servers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("grpc server listening", zap.String("addr", addr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		lg.Info("metrics server listening", zap.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 5. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	lg.Info("server stopped")
	return err
}
