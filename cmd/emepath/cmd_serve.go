package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"emepath/internal/appversion"
	"emepath/pkg/agents"
	"emepath/pkg/config"
	"emepath/pkg/eventlog"
	"emepath/pkg/httpapi"
	"emepath/pkg/queue"
	"emepath/pkg/runner"
	"emepath/pkg/stack"
	"emepath/pkg/state"
	"emepath/pkg/supervisor"
	"emepath/pkg/watcher"
)

// newServeCmd creates the "emepath serve" subcommand: the control process.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control process",
		Long:  "Boots the service fleet, serves the control API, schedules agent jobs,\nand (unless disabled) watches the source tree for staged restarts.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runServe(parent context.Context, out io.Writer) error {
	paths, err := config.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if err := os.MkdirAll(paths.Home, 0o750); err != nil {
		return fmt.Errorf("create home %s: %w", paths.Home, err)
	}
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return err
	}

	boot := newStartupLog(out, isatty.IsTerminal(os.Stdout.Fd()))

	db, err := state.Open(paths.StateDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	boot.Step("state database ready")

	events := eventlog.New(db)
	pidReg := stack.NewRegistry(db)
	sup := supervisor.New(paths.Home, pidReg, events)

	agentReg := agents.NewRegistry()
	snaps := agents.NewSnapshotStore(db)
	agentReg.OnTransition(snaps.Observer())
	agentReg.OnTransition(func(a *agents.Agent) {
		_ = events.Append(context.Background(), "agent_transition", "registry", "", a.ID,
			fmt.Sprintf(`{"status":%q}`, a.Status))
	})
	if err := snaps.Rehydrate(parent, agentReg); err != nil {
		boot.Warn(fmt.Sprintf("agent rehydration: %v", err))
	} else {
		boot.Step(fmt.Sprintf("agents rehydrated (%d)", len(agentReg.List())))
	}

	checklistsPath := cfg.ChecklistsPath
	if checklistsPath == "" {
		checklistsPath = paths.ChecklistsPath
	}
	pre, post, err := runner.LoadChecklists(checklistsPath)
	if err != nil {
		boot.Warn(fmt.Sprintf("checklists: %v", err))
	}
	exec := runner.New(runner.Config{ScanRoot: cfg.WatchRoot}, agentReg, nil, nil, events)
	exec.SetChecklists(pre, post)

	q := queue.New(cfg.Concurrency, events)

	if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		return err
	}
	runCtx, cleanup := SetupSignalHandler(parent, paths.PIDPath)
	defer cleanup()
	q.SetBaseContext(runCtx)

	bootFleet(runCtx, boot, sup, cfg)

	var watchCtl *watcher.Controller
	if cfg.Watch && !cfg.WatchChild {
		if spec, ok := watchTargetSpec(cfg); ok {
			watchCtl = watcher.New(watcher.Config{
				Root:        cfg.WatchRoot,
				IgnoreGlobs: cfg.WatchIgnore,
				IgnoreFile:  cfg.WatchIgnoreFile,
				PortStart:   cfg.PortStart,
				PortEnd:     cfg.PortEnd,
				Service:     spec,
			}, sup, relauncher(sup, spec), db, events)
			go watchCtl.Run(runCtx)
			boot.Step(fmt.Sprintf("watching %s for %s restarts", cfg.WatchRoot, spec.Name))
		} else {
			boot.Warn(fmt.Sprintf("watch enabled but no %q service defined", cfg.WatchService))
		}
	}

	var ws httpapi.WatchStater
	if watchCtl != nil {
		ws = watchCtl
	}
	api := httpapi.NewServer(q, agentReg, exec, ws, appversion.String())
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	boot.Step(fmt.Sprintf("control API listening on 127.0.0.1:%d", cfg.Port))

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Graceful shutdown: API first, then the fleet.
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)

	for _, svc := range cfg.Services {
		if h, ok := sup.Handle(svc.Name, roleOf(svc)); ok {
			sup.GracefulStop(h, 10*time.Second)
		}
	}
	sup.Wait()
	boot.Step("shutdown complete")
	return nil
}

// bootFleet starts every configured service with reuse detection and a
// health gate. Spawn failures are warnings, not fatal.
func bootFleet(ctx context.Context, boot *startupLog, sup *supervisor.Supervisor, cfg config.Config) {
	for _, svc := range cfg.Services {
		stop := boot.StartSpinner("starting " + svc.Name)
		h := sup.SpawnService(ctx, specFromService(svc))
		switch {
		case h.Failed:
			stop()
			boot.Warn(fmt.Sprintf("%s failed to start, see service log", svc.Name))
			continue
		case h.Reused:
			stop()
			boot.Step(fmt.Sprintf("%s already serving on port %d", svc.Name, svc.Port))
			continue
		}
		if svc.Port > 0 {
			url := fmt.Sprintf("http://127.0.0.1:%d%s", svc.Port, healthPathOf(svc))
			if !sup.WaitHealthy(ctx, url, 30*time.Second) {
				boot.Warn(fmt.Sprintf("%s not healthy on port %d yet", svc.Name, svc.Port))
			}
		}
		stop()
	}
}

// watchTargetSpec finds the fleet entry the watcher restarts.
func watchTargetSpec(cfg config.Config) (supervisor.SpawnSpec, bool) {
	for _, svc := range cfg.Services {
		if svc.Name == cfg.WatchService {
			return specFromService(svc), true
		}
	}
	return supervisor.SpawnSpec{}, false
}

// relauncher respawns the watched service on its original port through the
// supervisor. An external process manager can replace this by owning the
// port before the relaunch fires.
func relauncher(sup *supervisor.Supervisor, spec supervisor.SpawnSpec) watcher.Relauncher {
	return watcher.RelaunchFunc(func(ctx context.Context, port int) error {
		s := spec
		s.Port = port
		if h := sup.SpawnService(ctx, s); h.Failed {
			return fmt.Errorf("relaunch %s on port %d: spawn failed", s.Name, port)
		}
		return nil
	})
}

func specFromService(svc config.Service) supervisor.SpawnSpec {
	return supervisor.SpawnSpec{
		Name:       svc.Name,
		Role:       roleOf(svc),
		Command:    svc.Command,
		Args:       svc.Args,
		Env:        svc.Env,
		Dir:        svc.Dir,
		Port:       svc.Port,
		HealthPath: svc.HealthPath,
	}
}

func roleOf(svc config.Service) string {
	if svc.Role != "" {
		return svc.Role
	}
	return stack.RoleService
}

func healthPathOf(svc config.Service) string {
	if svc.HealthPath != "" {
		return svc.HealthPath
	}
	return "/health"
}
