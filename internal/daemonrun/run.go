// Package daemonrun hosts the foreground daemon process: logging, the
// instance lock, the control socket, and recording autostart.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"picam/internal/config"
	"picam/internal/daemon"
	"picam/internal/indicator"
	"picam/internal/ipc"
	"picam/internal/journal"
	"picam/internal/logging"
	"picam/internal/metrics"
	"picam/internal/preflight"
	"picam/internal/recorder"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Autostart overrides supervisor.autostart when set.
	Autostart *bool
}

// Run starts the picam daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("picam-%s.log", stamp))
	logger, closeLog, err := logging.NewWithCloser(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		FilePath:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update picam.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "picam-*.log", logPath, cfg.Logging.RetentionDays)
	logDependencySnapshot(signalCtx, logger, cfg)

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logger.Error("open segment journal", logging.Error(err))
		return err
	}

	m := metrics.New()
	ctrl := recorder.NewController(recorder.Options{
		Indicator: newIndicator(cfg, logger),
		Journal:   store,
		Metrics:   m,
		Logger:    logger,
	})
	d, err := daemon.New(cfg, store, ctrl, m, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		grace := time.Duration(cfg.Supervisor.StopGraceSeconds)*time.Second + 5*time.Second
		closeCtx, closeCancel := context.WithTimeout(context.Background(), grace)
		defer closeCancel()
		if err := d.Close(closeCtx); err != nil && !errors.Is(err, recorder.ErrUngracefulStop) {
			logger.Warn("daemon shutdown incomplete", logging.Error(err))
		}
	}()

	if err := d.Acquire(); err != nil {
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	autostart := cfg.Supervisor.Autostart
	if opts.Autostart != nil {
		autostart = *opts.Autostart
	}

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		return d.ServeMetrics(gctx, nil)
	})
	if autostart {
		g.Go(func() error {
			if _, err := d.StartRecording(gctx); err != nil {
				logging.WarnWithContext(logger, "recording autostart failed", "autostart_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "run picam doctor, then picam start"),
					logging.String(logging.FieldImpact, "nothing is recorded until recording is started"),
				)
			}
			return nil
		})
	}

	logger.Info("picam daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("socket", cfg.SocketPath()),
		logging.Bool("autostart", autostart),
	)
	<-gctx.Done()
	logger.Info("picam daemon shutting down")
	cancel()
	return g.Wait()
}

// newIndicator builds the LED state machine. A driver that fails to
// initialise falls back to logging so recording still starts.
func newIndicator(cfg *config.Config, logger *slog.Logger) *indicator.Machine {
	driver, err := indicator.NewDriver(cfg.Indicator.Driver, cfg.Indicator.Pin, logger)
	if err != nil {
		logging.WarnWithContext(logger, "indicator driver unavailable; logging instead", "indicator_driver_failed",
			logging.String("driver", cfg.Indicator.Driver),
			logging.String("pin", cfg.Indicator.Pin),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check indicator.pin and GPIO permissions"),
			logging.String(logging.FieldImpact, "the status LED stays dark"),
		)
		driver = indicator.LogDriver{Logger: logging.NewComponentLogger(logger, "indicator")}
	}
	period := time.Duration(cfg.Indicator.BlinkMS) * time.Millisecond
	return indicator.NewMachine(driver, period, logger)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "picam.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, result := range preflight.RunAll(ctx, cfg) {
		attrs = append(attrs, logging.Bool(result.Name, result.Passed))
		if !result.Passed {
			logger.Warn("preflight check failed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
