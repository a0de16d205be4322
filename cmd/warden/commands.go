package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/control"
	"github.com/loykin/warden/internal/env"
	"github.com/loykin/warden/internal/history"
	historysqlite "github.com/loykin/warden/internal/history/sqlite"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/probe"
	"github.com/loykin/warden/internal/reporter"
	"github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/state"
	"github.com/loykin/warden/internal/supervisor"
	"github.com/loykin/warden/pkg/client"
)

// command implements the CLI verbs. The zero value is not usable; it is
// built by buildRoot with the parsed global flags.
type command struct {
	flags *GlobalFlags
}

// configPath resolves the config file from --config or the positional
// argument.
func (c command) configPath(args []string) (string, error) {
	if c.flags.ConfigPath != "" {
		return c.flags.ConfigPath, nil
	}
	if len(args) > 0 {
		return args[0], nil
	}
	return "", fmt.Errorf("config file required (use --config)")
}

// Start runs the supervisor loop, optionally daemonized.
func (c command) Start(flags StartFlags, args []string) error {
	path, err := c.configPath(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pidFile, logFile := "", flags.LogFile
	if cfg.Server != nil {
		pidFile = cfg.Server.PidFile
		if logFile == "" {
			logFile = cfg.Server.LogFile
		}
	}
	if flags.Daemonize {
		if !isDaemonSupported() {
			return fmt.Errorf("daemon mode is not supported on this platform")
		}
		// Parent re-execs the child and exits inside daemonize; only
		// the detached child reaches the serve loop below.
		if err := daemonize(pidFile, logFile); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}

	return c.serve(cfg, pidFile)
}

// serve wires config into the running daemon and blocks until a
// shutdown signal arrives.
func (c command) serve(cfg *config.Config, pidFile string) error {
	lg := cfg.Log.Setup()
	slog.SetDefault(lg)
	for _, bad := range cfg.Invalid {
		lg.Warn("service disabled by invalid config", "service", bad.Name, "error", bad.Err)
	}

	if pidFile != "" {
		if err := writePidFile(pidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer func() { _ = removePidFile(pidFile) }()
	}

	envM := env.New()
	envM.FromOS()
	envM.SetAll(cfg.GlobalEnv)

	var hist history.Sink
	if cfg.History != nil && cfg.History.Path != "" {
		db, err := historysqlite.New(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer func() { _ = db.Close() }()
		hist = db
	}

	store := state.NewFileStore(cfg.StateFile, lg)
	ctrl := control.NewExecController(envM, cfg.Log, cfg.StopGrace, lg)

	sup, err := supervisor.New(supervisor.Options{
		Specs:              cfg.Specs,
		Policy:             cfg.Policy,
		ScanInterval:       cfg.ScanInterval,
		HealthPollInterval: cfg.HealthPollInterval,
		Store:              store,
		Controller:         ctrl,
		Prober:             probe.New(),
		History:            hist,
		Logger:             lg,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var apiServer *http.Server
	if cfg.Server != nil && cfg.Server.Listen != "" {
		apiServer = server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, sup, hist)
		lg.Info("API server listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	}

	var metricsServer *http.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			lg.Warn("metrics registration failed", "error", err)
		}
		listen := cfg.Metrics.Listen
		if listen == "" {
			listen = ":9091"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() { _ = metricsServer.ListenAndServe() }()
		lg.Info("metrics listening", "addr", listen)
	}

	if cfg.Reporter != nil && cfg.Reporter.URL != "" {
		rep := reporter.New(cfg.Reporter.URL, cfg.Reporter.Interval, cfg.Reporter.Timeout,
			func() reporter.Summary { return summarize(sup.Snapshot()) }, lg)
		go rep.Run(ctx)
		lg.Info("health reporter enabled", "url", cfg.Reporter.URL, "interval", cfg.Reporter.Interval)
	}

	err = sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if apiServer != nil {
		_ = apiServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return err
}

// Stop signals a daemonized supervisor via its pidfile.
func (c command) Stop() error {
	path, err := c.configPath(nil)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server == nil || cfg.Server.PidFile == "" {
		return fmt.Errorf("no pidfile configured under [server]; cannot locate daemon")
	}
	b, err := os.ReadFile(cfg.Server.PidFile)
	if err != nil {
		return fmt.Errorf("read pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("pidfile %s: %w", cfg.Server.PidFile, err)
	}
	if err := signalStop(pid); err != nil {
		return fmt.Errorf("stop pid %d: %w", pid, err)
	}
	fmt.Printf("Sent stop signal to daemon (PID %d)\n", pid)
	return nil
}

// Status prints per-service health and restart budget. With --api-url it
// asks the running daemon; otherwise it loads the state file read-only
// and runs one-shot probes.
func (c command) Status(flags StatusFlags) error {
	if flags.APIUrl != "" {
		return c.statusViaAPI(flags)
	}

	path, err := c.configPath(nil)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	now := time.Now()
	doc := state.NewFileStore(cfg.StateFile, slog.Default()).Load(now)
	snap := supervisor.BuildSnapshot(doc, cfg.Specs, cfg.Policy, now)

	// One-shot probes so the printed online column reflects right now,
	// not the last daemon tick.
	prober := probe.New()
	var wg sync.WaitGroup
	for i, spec := range cfg.Specs {
		wg.Add(1)
		go func(i int, spec control.Spec) {
			defer wg.Done()
			res := prober.Check(context.Background(), spec.HealthURL, spec.ProbeTimeout)
			snap.Services[i].Online = res.Online
			if res.Online {
				snap.Services[i].Status = state.StatusOnline
			} else {
				snap.Services[i].Status = state.StatusOffline
			}
		}(i, spec)
	}
	wg.Wait()

	if flags.Name != "" {
		for _, ss := range snap.Services {
			if ss.Name == flags.Name {
				if flags.JSON {
					return printJSON(ss)
				}
				printServices([]supervisor.ServiceStatus{ss})
				return nil
			}
		}
		return fmt.Errorf("unknown service %q", flags.Name)
	}
	if flags.JSON {
		return printJSON(snap)
	}
	printServices(snap.Services)
	return nil
}

func (c command) statusViaAPI(flags StatusFlags) error {
	cl := client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
	ctx, cancel := context.WithTimeout(context.Background(), flags.APITimeout)
	defer cancel()
	if flags.Name != "" {
		ss, err := cl.ServiceStatus(ctx, flags.Name)
		if err != nil {
			return err
		}
		return printJSON(ss)
	}
	snap, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

// Reset zeroes restart state for one or all services, through the daemon
// when --api-url is given, otherwise directly in the state file.
func (c command) Reset(flags ResetFlags, name string) error {
	if flags.APIUrl != "" {
		cl := client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
		ctx, cancel := context.WithTimeout(context.Background(), flags.APITimeout)
		defer cancel()
		if err := cl.Reset(ctx, name); err != nil {
			return err
		}
		fmt.Println("reset ok")
		return nil
	}

	path, err := c.configPath(nil)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := state.NewFileStore(cfg.StateFile, slog.Default())
	doc := store.Load(time.Now())
	if !doc.ResetService(name) {
		return fmt.Errorf("unknown service %q", name)
	}
	if err := store.Save(doc); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if name == "" {
		fmt.Println("reset all services")
	} else {
		fmt.Printf("reset %s\n", name)
	}
	return nil
}

// History prints recent restart events from the audit sink.
func (c command) History(flags HistoryFlags) error {
	var events []history.Event
	if flags.APIUrl != "" {
		cl := client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
		ctx, cancel := context.WithTimeout(context.Background(), flags.APITimeout)
		defer cancel()
		remote, err := cl.History(ctx, flags.Service, flags.Limit)
		if err != nil {
			return err
		}
		for _, e := range remote {
			events = append(events, history.Event{
				Service: e.Service, IssuedAt: e.IssuedAt,
				Outcome: history.Outcome(e.Outcome), Error: e.Error,
			})
		}
	} else {
		path, err := c.configPath(nil)
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.History == nil || cfg.History.Path == "" {
			return fmt.Errorf("no [history] sink configured")
		}
		db, err := historysqlite.New(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer func() { _ = db.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		events, err = db.Recent(ctx, flags.Service, flags.Limit)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tSERVICE\tOUTCOME\tERROR")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.IssuedAt.Local().Format(time.RFC3339), e.Service, e.Outcome, e.Error)
	}
	return w.Flush()
}

// summarize converts a supervisor snapshot into the webhook wire format.
func summarize(snap supervisor.Snapshot) reporter.Summary {
	host, _ := os.Hostname()
	sum := reporter.Summary{
		Timestamp:     time.Now(),
		Hostname:      host,
		UptimeSeconds: snap.UptimeSeconds,
		Services:      make([]reporter.ServiceSummary, 0, len(snap.Services)),
	}
	for _, ss := range snap.Services {
		sum.Services = append(sum.Services, reporter.ServiceSummary{
			Name:               ss.Name,
			Online:             ss.Online,
			RestartsThisWindow: ss.RestartsThisWindow,
		})
	}
	return sum
}

func printServices(services []supervisor.ServiceStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVICE\tSTATUS\tRESTARTS(1H)\tLAST RESTART\tRESTART BUDGET")
	for _, ss := range services {
		last := "-"
		if ss.LastRestartAt != nil {
			last = ss.LastRestartAt.Local().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			ss.Name, ss.Status, ss.RestartsThisWindow, last, ss.Decision)
	}
	_ = w.Flush()
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
