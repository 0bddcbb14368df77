package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/storyboard/internal/cfg"
	"github.com/keithlinneman/storyboard/internal/gatewayhttp"
	"github.com/keithlinneman/storyboard/internal/health"
	"github.com/keithlinneman/storyboard/internal/httpmw"
	"github.com/keithlinneman/storyboard/internal/httpserver"
	"github.com/keithlinneman/storyboard/internal/log"
	"github.com/keithlinneman/storyboard/internal/metrics"
	"github.com/keithlinneman/storyboard/internal/mirror"
	"github.com/keithlinneman/storyboard/internal/opshttp"
	"github.com/keithlinneman/storyboard/internal/otelx"
	"github.com/keithlinneman/storyboard/internal/prof"
	"github.com/keithlinneman/storyboard/internal/ratelimit"
	v "github.com/keithlinneman/storyboard/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"config_file", conf.ConfigFile,
		"escape_markup", conf.EscapeMarkup,
		"strict_token", conf.StrictToken,
		"max_body_bytes", conf.MaxBodyBytes,
		"rate_limit_rps", conf.RateLimitRPS,
		"rate_limit_burst", conf.RateLimitBurst,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_mirror", conf.EnableMirror,
		"mirror_s3_bucket", conf.MirrorS3Bucket,
		"mirror_s3_prefix", conf.MirrorS3Prefix,
		"mirror_kms_key", conf.MirrorKMSKey,
		"mirror_ssm_param", conf.MirrorSSMParam,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
		OnState: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	gwOpts := gatewayhttp.Options{
		ConfigPath:   conf.ConfigFile,
		StrictToken:  conf.StrictToken,
		EscapeMarkup: conf.EscapeMarkup,
		Recorder:     m,
	}
	if conf.EnableMirror {
		pub, err := mirror.New(ctx, mirror.Options{
			Logger:   L.With("subsystem", "mirror"),
			Bucket:   conf.MirrorS3Bucket,
			Prefix:   conf.MirrorS3Prefix,
			KMSKeyID: conf.MirrorKMSKey,
			SSMParam: conf.MirrorSSMParam,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create storage mirror")
			os.Exit(1)
		}
		gwOpts.Mirror = pub
	}

	gw, err := gatewayhttp.New(gwOpts)
	if err != nil {
		L.Error(ctx, err, "failed to create gateway handler")
		os.Exit(1)
	}

	// a missing storage file is logged, not fatal; readiness reports it
	if err := gw.Ready(ctx); err != nil {
		L.Warn(ctx, "storyboard storage not ready at startup", "config_file", conf.ConfigFile, "error", err.Error())
	}

	var gate health.ShutdownGate

	readiness := health.All(
		gate.Probe(),
		health.Named("storage", health.Timeout(health.CheckFunc(gw.Ready), 2*time.Second)),
	)

	var rateLimitMW func(http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// logged once per ip until it is cleaned up
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	appHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:           L,
		Port:             conf.HTTPPort,
		UseRecoverMW:     true,
		OnPanic:          m.IncHttpPanic,
		MetricsMW:        m.Middleware,
		RateLimitMW:      rateLimitMW,
		ClientIPOpts:     httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes:     conf.MaxBodyBytes,
		Health:           health.Fixed(true, ""),
		Readiness:        readiness,
		APIRoutes:        func(r chi.Router) { gw.RegisterRoutes(r) },
		NotFound:         http.HandlerFunc(gw.NotFound),
		MethodNotAllowed: http.HandlerFunc(gw.MethodNotAllowed),
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// the ops listener rejects public peers and forwarded requests itself
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// systemd kills us after its start timeout if this really mattered
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err.Error())
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	drain := time.Duration(conf.DrainSeconds) * time.Second
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_seconds", conf.DrainSeconds)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drain):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when systemd started us with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
