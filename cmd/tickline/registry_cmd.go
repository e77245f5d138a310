package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/tickline/tickline/gateway/registry"
	"github.com/tickline/tickline/telemetry"
)

func newRegistryCmd() *cobra.Command {
	var (
		listenAddr   string
		redisAddr    string
		name         string
		pingInterval time.Duration
		missed       int
	)
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "run the standalone cross-process agent registry service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistry(cmd.Context(), registryOptions{
				listenAddr:   listenAddr,
				redisAddr:    redisAddr,
				name:         name,
				pingInterval: pingInterval,
				missed:       missed,
			})
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":7070", "gRPC listen address")
	cmd.Flags().StringVar(&redisAddr, "redis", "localhost:6379", "redis address backing the registry's replicated state")
	cmd.Flags().StringVar(&name, "name", "tickline-registry", "cluster name; nodes sharing it and redis form one registry")
	cmd.Flags().DurationVar(&pingInterval, "ping-interval", registry.DefaultPingInterval, "interval between app liveness pings")
	cmd.Flags().IntVar(&missed, "missed-ping-threshold", registry.DefaultMissedPingThreshold, "consecutive missed pings before an app is marked unhealthy")
	return cmd
}

type registryOptions struct {
	listenAddr   string
	redisAddr    string
	name         string
	pingInterval time.Duration
	missed       int
}

func runRegistry(ctx context.Context, opts registryOptions) error {
	rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
	defer rdb.Close()

	reg, err := registry.New(ctx, registry.Config{
		Redis:               rdb,
		Name:                opts.name,
		PingInterval:        opts.pingInterval,
		MissedPingThreshold: opts.missed,
		Telemetry:           telemetry.Noop(),
	})
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer reg.Close()

	lis, err := net.Listen("tcp", opts.listenAddr)
	if err != nil {
		return fmt.Errorf("registry: listen %s: %w", opts.listenAddr, err)
	}

	srv := grpc.NewServer()
	registry.RegisterGRPCServer(srv, registry.NewGRPCServer(reg))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	}
}
