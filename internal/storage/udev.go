package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"picam/internal/logging"
)

// UdevWatcher listens for block device uevents and calls onEvent for each
// add, remove, or change. It only nudges the Monitor; state still comes
// from the probe.
type UdevWatcher struct {
	logger  *slog.Logger
	onEvent func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewUdevWatcher returns a watcher that calls onEvent on block events.
func NewUdevWatcher(logger *slog.Logger, onEvent func()) *UdevWatcher {
	return &UdevWatcher{
		logger:  logging.NewComponentLogger(logger, "udev"),
		onEvent: onEvent,
	}
}

// Start connects to the udev netlink socket. Failure to connect is logged
// and not returned: polling alone still detects storage changes.
func (w *UdevWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "udev netlink unavailable; relying on polling", "udev_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run with access to netlink sockets or set storage.udev=false"),
			logging.String(logging.FieldImpact, "storage changes are seen on the next poll instead of immediately"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true
	w.wg.Add(1)
	go w.loop(ctx, conn, w.quit)
	return nil
}

// Stop closes the netlink connection and waits for the loop.
func (w *UdevWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.quit)
	conn := w.conn
	w.conn = nil
	w.quit = nil
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	_ = conn.Close()
}

func (w *UdevWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	defer w.wg.Done()
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, blockMatcher())
	defer close(monitorQuit)

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case uevent := <-queue:
			w.logger.Debug("block device event",
				logging.String("action", string(uevent.Action)),
				logging.String("device", uevent.Env["DEVNAME"]),
			)
			if w.onEvent != nil {
				w.onEvent()
			}
		case err := <-errs:
			w.logger.Debug("udev monitor error", logging.Error(err))
		}
	}
}

func blockMatcher() netlink.Matcher {
	action := "add|remove|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	})
	return rules
}
