// vaultwatch logs in to Vault, watches the secrets listed in its
// configuration file and prints every update as a JSON line on stdout.
// Secret values are printed only with --show-values.
//
// It runs until interrupted. The exit status is non-zero when the initial
// login or any initial fetch fails.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	vaultclient "github.com/input-output-hk/catalyst-forge-libs/vaultclient"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/awssm"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		showValues bool
		once       bool
	)

	flagSet := pflag.NewFlagSet("vaultwatch", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the YAML configuration file")
	flagSet.BoolVar(&showValues, "show-values", false, "include secret values in the printed events")
	flagSet.BoolVar(&once, "once", false, "exit after the initial fetch")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	client, err := vaultclient.New(clientOptions(cfg, logger, registry)...)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	out := &eventWriter{enc: json.NewEncoder(stdout), showValues: showValues}
	client.Subscribe(vaultclient.TopicError, out.handle)
	client.Subscribe(vaultclient.TopicLoginError, out.handle)
	client.Subscribe(vaultclient.TopicLogin, out.handle)
	for _, s := range cfg.Secrets {
		client.Subscribe(vaultclient.SecretTopic(s.Address), out.handle)
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	if _, err := client.Login(ctx, cfg.Login); err != nil {
		return err
	}
	if err := client.Watch(ctx, cfg.Secrets...); err != nil {
		return err
	}
	if once {
		return nil
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func clientOptions(cfg *Config, logger *slog.Logger, reg prometheus.Registerer) []vaultclient.Option {
	vaultCfg := api.DefaultConfig()
	if cfg.Vault.Address != "" {
		vaultCfg.Address = cfg.Vault.Address
	}

	opts := []vaultclient.Option{
		vaultclient.WithLogger(logger),
		vaultclient.WithVaultConfig(vaultCfg),
		vaultclient.WithMetrics(reg),
		vaultclient.WithRenewFraction(cfg.RenewFraction),
	}
	if cfg.Vault.Namespace != "" {
		opts = append(opts, vaultclient.WithNamespace(cfg.Vault.Namespace))
	}
	if cfg.Vault.MinVersion != "" {
		opts = append(opts, vaultclient.WithMinServerVersion(cfg.Vault.MinVersion))
	}
	if cfg.Retry != nil {
		opts = append(opts, vaultclient.WithRetry(*cfg.Retry))
	}
	if cfg.AWSSecrets != nil {
		var awsOpts []awssm.Option
		if cfg.AWSSecrets.Region != "" {
			awsOpts = append(awsOpts, awssm.WithRegion(cfg.AWSSecrets.Region))
		}
		if cfg.AWSSecrets.Endpoint != "" {
			awsOpts = append(awsOpts, awssm.WithEndpoint(cfg.AWSSecrets.Endpoint))
		}
		opts = append(opts, vaultclient.WithAWSSecrets(awsOpts...))
	}
	return opts
}

// line is one printed event.
type line struct {
	Time    time.Time `json:"time"`
	Topic   string    `json:"topic"`
	Address string    `json:"address,omitempty"`
	Path    string    `json:"path,omitempty"`
	Backend string    `json:"backend,omitempty"`
	Lease   string    `json:"lease,omitempty"`
	Renewal bool      `json:"renewal,omitempty"`
	Value   any       `json:"value,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// eventWriter prints events as JSON lines.
type eventWriter struct {
	mu         sync.Mutex
	enc        *json.Encoder
	showValues bool
}

func (w *eventWriter) handle(_ context.Context, e vaultclient.Event) error {
	l := line{Time: e.OccurredAt, Topic: e.Topic}

	switch p := e.Payload.(type) {
	case vaultclient.SecretPayload:
		l.Address, l.Path, l.Renewal = p.Address, p.Path, p.Renewal
		l.Lease = p.LeaseDuration.String()
		if w.showValues {
			l.Value = p.Value
		}
	case vaultclient.ErrorPayload:
		l.Address, l.Path, l.Renewal = p.Address, p.Path, p.Renewal
		l.Error = p.Err.Error()
	case vaultclient.LoginErrorPayload:
		l.Backend, l.Renewal = p.Backend, p.Renewal
		l.Error = p.Err.Error()
	case vaultclient.LoginPayload:
		l.Backend, l.Renewal = p.Backend, p.Renewal
		l.Lease = p.LeaseDuration.String()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(l)
}
