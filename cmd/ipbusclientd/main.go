// Command ipbusclientd is a small demonstration daemon for the device
// client: it opens a registry, resolves a fixed set of targets from the
// command line, and periodically probes each one over the public
// enqueue API, logging round-trip latency and any error code.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/ipbus-deviceclient/internal/deviceclient"
	"github.com/malbeclabs/ipbus-deviceclient/internal/protocol"
	"github.com/malbeclabs/ipbus-deviceclient/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	targetsFlag          = flag.String("targets", "", "comma-separated ip:port list of IPbus targets to probe")
	bindIP               = flag.String("bind-ip", "", "local address to bind the actors' sockets to")
	responseTimeout      = flag.Duration("response-timeout", 1000*time.Millisecond, "per-send response timeout (T_response)")
	statusAttempts       = flag.Int("status-attempts", 2, "status-port probe attempts before giving up (N_status_attempts)")
	pollInterval         = flag.Duration("poll-interval", 5*time.Second, "interval between demonstration probes per target; 0 disables polling")
	enableVerboseLogging = flag.Bool("v", false, "enables verbose logging")
	metricsEnable        = flag.Bool("metrics-enable", false, "enable prometheus metrics")
	metricsAddr          = flag.String("metrics-addr", "localhost:0", "address to listen on for prometheus metrics")
	versionFlag          = flag.Bool("version", false, "build version")

	// set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	flag.Parse()

	opts := &slog.HandlerOptions{}
	if *enableVerboseLogging {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)

	if *versionFlag {
		fmt.Printf("build: %s\n", commit)
		fmt.Printf("version: %s\n", version)
		fmt.Printf("date: %s\n", date)
		os.Exit(0)
	}

	targets, err := parseTargets(*targetsFlag)
	if err != nil {
		slog.Error("invalid -targets", "error", err)
		os.Exit(1)
	}
	if len(targets) == 0 {
		slog.Error("-targets is required, e.g. -targets=10.0.0.1:50001,10.0.0.2:50001")
		os.Exit(1)
	}

	if *metricsEnable {
		buildInfo := promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipbus_deviceclient_build_info",
				Help: "Build information of the ipbusclientd binary.",
			},
			[]string{"version", "commit", "date"},
		)
		buildInfo.WithLabelValues(version, commit, date).Set(1)

		go func() {
			listener, err := net.Listen("tcp", *metricsAddr)
			if err != nil {
				slog.Error("failed to start prometheus metrics listener", "error", err)
				os.Exit(1)
			}
			http.Handle("/metrics", promhttp.Handler())
			slog.Info("prometheus metrics server started", "address", listener.Addr().String())
			if err := http.Serve(listener, nil); err != nil {
				log.Printf("prometheus metrics server stopped: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := deviceclient.Config{
		BindIP:          *bindIP,
		TResponse:       *responseTimeout,
		NStatusAttempts: *statusAttempts,
		Clock:           clockwork.NewRealClock(),
		Logger:          logger,
	}

	reg := registry.New(ctx, cfg, logger)
	defer reg.Close()

	for _, t := range targets {
		if _, err := reg.GetOrCreate(t.IPv4, t.Port); err != nil {
			slog.Error("failed to start actor", "target", t, "error", err)
			os.Exit(1)
		}
	}

	if *pollInterval <= 0 {
		<-ctx.Done()
		return
	}
	runPollLoop(ctx, reg, targets, *pollInterval)
}

// pingRequest is a minimal v2.0 control-channel request with no payload,
// suitable for exercising the single-flight engine's round trip without
// assuming any particular register layout.
var pingRequest = []byte{0x20, 0x00, 0x00, 0xF0}

func runPollLoop(ctx context.Context, reg *registry.Registry, targets []registry.Target, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range targets {
				probeOnce(reg, t)
			}
		}
	}
}

func probeOnce(reg *registry.Registry, t registry.Target) {
	sent := time.Now()
	err := reg.Enqueue(t.IPv4, t.Port, pingRequest, func(resp protocol.Response) {
		latency := time.Since(sent)
		if resp.ErrorCode == protocol.Success {
			slog.Info("probe succeeded", "target", t, "latency", latency)
		} else {
			slog.Warn("probe failed", "target", t, "error_code", resp.ErrorCode, "latency", latency)
		}
	})
	if err != nil {
		slog.Error("enqueue failed", "target", t, "error", err)
	}
}

func parseTargets(s string) ([]registry.Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	targets := make([]registry.Target, 0, len(parts))
	for _, p := range parts {
		t, err := registry.ParseTarget(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}
