package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/adapter/anthropic"
	"github.com/tickline/tickline/adapter/openai"
	"github.com/tickline/tickline/app"
	"github.com/tickline/tickline/clientbuf"
	"github.com/tickline/tickline/config"
	"github.com/tickline/tickline/gateway"
	"github.com/tickline/tickline/telemetry"
	"github.com/tickline/tickline/transport"
	"github.com/tickline/tickline/transport/socketio"
	"github.com/tickline/tickline/transport/sse"
	"github.com/tickline/tickline/transport/unixsocket"
	"github.com/tickline/tickline/transport/websocket"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "load a config file and serve its agents over the configured transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "tickline.yaml", "path to the tickline config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	rec, err := buildTelemetry(cfg.Telemetry)
	if err != nil {
		return err
	}

	registry := gateway.NewAgentRegistry()
	for id, appCfg := range cfg.Apps {
		a, err := buildApp(id, appCfg, rec)
		if err != nil {
			return fmt.Errorf("app %q: %w", id, err)
		}
		registry.Register(id, id, a, appCfg.Default)
	}

	gw := gateway.New(gateway.Config{
		Registry:             registry,
		AuthMode:             gateway.AuthMode(cfg.Gateway.AuthMode),
		Authenticator:        buildAuthenticator(cfg),
		ClientBufferMax:      cfg.Gateway.ClientBufferMax,
		ClientOverflowPolicy: clientbuf.OverflowPolicy(cfg.Gateway.ClientOverflowPolicy),
		Telemetry:            rec,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	transports, err := buildTransports(cfg.Transport)
	if err != nil {
		return err
	}
	for _, t := range transports {
		if err := gw.Attach(ctx, t); err != nil {
			return fmt.Errorf("attach transport %s: %w", t.Type(), err)
		}
	}

	<-ctx.Done()
	return gw.Stop(context.Background())
}

func buildAuthenticator(cfg *config.Config) gateway.Authenticator {
	if cfg.Gateway.AuthMode != string(gateway.AuthToken) {
		return nil
	}
	return gateway.NewTokenAuthenticator(cfg.AuthToken())
}

func buildTelemetry(cfg config.TelemetryConfig) (*telemetry.Recorder, error) {
	switch cfg.Backend {
	case "", "noop":
		return telemetry.Noop(), nil
	case "clue":
		return telemetry.NewClueRecorder(), nil
	case "prometheus":
		reg := prometheus.NewRegistry()
		rec := telemetry.NewRecorder(telemetry.NewClueLogger(), telemetry.NewPromMetrics(reg), telemetry.NewClueTracer())
		if cfg.MetricsAddr != "" {
			go serveMetrics(cfg.MetricsAddr, reg)
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unknown telemetry backend %q", cfg.Backend)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	_ = http.ListenAndServe(addr, mux)
}

func buildApp(id string, cfg config.AppConfig, rec *telemetry.Recorder) (*app.App, error) {
	ad, err := buildAdapter(cfg)
	if err != nil {
		return nil, err
	}
	renderer := newChatRenderer("You are a helpful assistant.", nil, cfg.Model, cfg.MaxTokens, nil)
	return app.New(app.Config{
		ID:        id,
		Renderer:  renderer,
		Adapter:   ad,
		Fanout:    cfg.Fanout,
		Telemetry: rec,
	})
}

func buildAdapter(cfg config.AppConfig) (adapter.ModelAdapter, error) {
	apiKeyEnv := config.AdapterAPIKeyEnv(cfg.Adapter)
	switch cfg.Adapter {
	case "anthropic":
		return anthropic.NewFromAPIKey(os.Getenv(apiKeyEnv), anthropic.Options{
			DefaultModel: defaultString(cfg.Model, "claude-sonnet-4-5"), MaxTokens: defaultInt(cfg.MaxTokens, 4096), Temperature: cfg.Temperature,
		})
	case "openai":
		return openai.NewFromAPIKey(os.Getenv(apiKeyEnv), openai.Options{
			DefaultModel: defaultString(cfg.Model, "gpt-4o"), MaxTokens: defaultInt(cfg.MaxTokens, 4096), Temperature: cfg.Temperature,
		})
	case "bedrock":
		return nil, errors.New("bedrock adapter requires an aws.Config; wire it via a custom build, not config.yaml")
	default:
		return nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func buildTransports(cfg config.TransportConfig) ([]transport.Transport, error) {
	var out []transport.Transport
	if cfg.SSE != nil {
		out = append(out, sse.New(sse.Options{Addr: cfg.SSE.Addr, AllowedOrigins: cfg.SSE.AllowedOrigins}))
	}
	if cfg.WebSocket != nil {
		out = append(out, websocket.New(websocket.Options{
			Addr: cfg.WebSocket.Addr, Path: cfg.WebSocket.Path, InsecureSkipOriginCheck: cfg.WebSocket.InsecureSkipOriginCheck,
		}))
	}
	if cfg.SocketIO != nil {
		out = append(out, socketio.New(socketio.Options{Addr: cfg.SocketIO.Addr, Path: cfg.SocketIO.Path}))
	}
	if cfg.Unix != nil {
		out = append(out, unixsocket.New(unixsocket.Options{SocketPath: cfg.Unix.SocketPath}))
	}
	if len(out) == 0 {
		return nil, errors.New("no transports configured")
	}
	return out, nil
}
