package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	operatorapi "github.com/aegis-sign/wcsigner/internal/api"
	"github.com/aegis-sign/wcsigner/internal/app/wallet"
	"github.com/aegis-sign/wcsigner/internal/config"
	"github.com/aegis-sign/wcsigner/internal/gateway/dispatch"
	"github.com/aegis-sign/wcsigner/internal/infra/keystore"
	"github.com/aegis-sign/wcsigner/internal/infra/relayclient"
	"github.com/aegis-sign/wcsigner/internal/infra/sessiondb"
	"github.com/aegis-sign/wcsigner/internal/pairing"
	"github.com/aegis-sign/wcsigner/internal/session"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the relay and answer session proposals and signing requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.SlogLevel())
			slog.SetDefault(logger)
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.DefaultRegisterer

	local, err := loadKey(cfg.Key)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	store := keystore.NewSerialized(local, keystore.NewMetrics(reg), logger)
	logger.Info("signing key loaded", "address", local.CommonAddress().Hex())

	registryOpts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(session.NewMetrics(reg)),
		session.WithTTL(cfg.Sessions.TTL),
	}
	if cfg.Sessions.DBPath != "" {
		db, err := sessiondb.Open(cfg.Sessions.DBPath)
		if err != nil {
			return fmt.Errorf("open session db: %w", err)
		}
		defer db.Close()
		registryOpts = append(registryOpts, session.WithPersister(db))
	}
	registry := session.NewRegistry(registryOpts...)
	if restored, err := registry.Restore(ctx); err != nil {
		logger.Warn("session restore failed", "error", err)
	} else if restored > 0 {
		logger.Info("sessions restored", "count", restored)
	}

	relay, err := relayclient.Dial(ctx, relayclient.Config{
		URL:            cfg.Relay.URL,
		ProjectID:      cfg.Relay.ProjectID,
		Endpoint:       cfg.Relay.Endpoint,
		DialTimeout:    cfg.Relay.DialTimeout,
		RequestTimeout: cfg.Relay.RequestTimeout,
		Logger:         logger,
		Metrics:        relayclient.NewMetrics(reg),
	})
	if err != nil {
		return err
	}
	defer relay.Close()

	negotiator, err := pairing.NewNegotiator(relay, pairing.Config{
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
		Logger:           logger,
		Metrics:          pairing.NewMetrics(reg),
	})
	if err != nil {
		return err
	}
	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		MaxQueue:       cfg.Dispatch.MaxQueue,
		RateLimit:      cfg.Dispatch.RateLimit,
		RateBurst:      cfg.Dispatch.RateBurst,
		DedupSize:      cfg.Dispatch.DedupSize,
		HandlerTimeout: cfg.Dispatch.HandlerTimeout,
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		Logger:         logger,
		Metrics:        dispatch.NewMetrics(reg),
	}, store, relay)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	client, err := wallet.New(wallet.Config{
		Capabilities: cfg.Namespaces,
		Metadata:     cfg.Wallet,
		Logger:       logger,
		Metrics:      wallet.NewMetrics(reg),
	}, wallet.Deps{
		Transport:  relay,
		Negotiator: negotiator,
		Registry:   registry,
		Dispatcher: dispatcher,
		Store:      store,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Server.HTTPAddr != "" {
		mux := http.NewServeMux()
		operatorapi.NewHTTPHandler(client).Register(mux)
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/debug/dispatch", dispatcher.DebugHandler())
		httpSrv := &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("HTTP server listening", "addr", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown error", "error", err)
			}
			return nil
		})
	}

	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcSrv := grpc.NewServer()
		operatorapi.RegisterOperatorServer(grpcSrv, operatorapi.NewGRPCServer(client))
		healthSrv := health.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		g.Go(func() error {
			logger.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthSrv.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// loadKey 从加密密钥文件或环境变量读取私钥。私钥只存在于返回的 Local 中。
func loadKey(cfg config.KeyConfig) (*keystore.Local, error) {
	if cfg.File != "" {
		passphrase := os.Getenv(cfg.PassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("passphrase env %s is empty", cfg.PassphraseEnv)
		}
		return keystore.ReadKeyFile(cfg.File, passphrase)
	}
	hexKey := os.Getenv(cfg.PrivateKeyEnv)
	if hexKey == "" {
		return nil, fmt.Errorf("private key env %s is empty", cfg.PrivateKeyEnv)
	}
	return keystore.LocalFromHex(hexKey)
}
