package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"picam/internal/ipc"
	"picam/internal/testsupport"
)

func TestRunAutostartsAndShutsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubEncoder())
	cfg.Supervisor.Autostart = true
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{}) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
			status, err := client.Status()
			client.Close()
			if err == nil && status.State == "running" {
				break
			}
		}
		select {
		case err := <-done:
			t.Fatalf("Run exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon never reported running")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("pid file missing: %v", err)
	}
	if target, err := os.Readlink(filepath.Join(cfg.Paths.LogDir, "picam.log")); err != nil || filepath.Dir(target) != cfg.Paths.LogDir {
		t.Fatalf("log pointer not updated: %q %v", target, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed, got %v", err)
	}
	if _, err := os.Stat(cfg.SocketPath()); !os.IsNotExist(err) {
		t.Fatalf("socket should be removed, got %v", err)
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubEncoder())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() { first <- Run(ctx, cfg, Options{}) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
			client.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first daemon never listened")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := Run(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("second daemon should fail to take the lock")
	}

	cancel()
	if err := <-first; err != nil {
		t.Fatalf("first daemon: %v", err)
	}
}
