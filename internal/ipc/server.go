package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"picam/internal/daemon"
	"picam/internal/logging"
	"picam/internal/recorder"
)

const serviceName = "Picam"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connected clients
// are served until they hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("recording start requested")
	handle, err := s.daemon.StartRecording(s.ctx)
	if err != nil {
		resp.Started = false
		resp.Message = err.Error()
		var pe *recorder.PipelineError
		switch {
		case errors.As(err, &pe):
			resp.ErrorKind = string(pe.Kind)
		case errors.Is(err, recorder.ErrAlreadyRunning):
			resp.ErrorKind = "already_running"
		}
		return nil
	}
	resp.Started = true
	resp.RunID = handle.RunID
	resp.PID = handle.PID
	resp.StartedAt = handle.StartedAt
	resp.Message = "recording started"
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("recording stop requested")
	err := s.daemon.StopRecording(s.ctx)
	resp.Stopped = true
	resp.Message = "recording stopped"
	if errors.Is(err, recorder.ErrUngracefulStop) {
		resp.Forced = true
		resp.Message = err.Error()
		return nil
	}
	return err
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	p := status.Pipeline
	resp.State = p.State.String()
	resp.RunID = p.RunID
	resp.StartedAt = p.StartedAt
	resp.UptimeSeconds = p.Uptime.Seconds()
	resp.PID = p.PID
	resp.Restarts = p.Restarts
	resp.LastError = p.LastError
	resp.Storage = p.StorageState.String()
	resp.Indicator = p.Indicator.String()
	resp.SegmentsClosed = p.SegmentsClosed
	resp.SpoolPending = p.SpoolPending
	resp.StreamReady = p.StreamReady
	resp.StreamSequence = p.Stream.MediaSequence
	resp.StreamSegments = p.Stream.Segments
	resp.GPSFix = p.GPSFix
	if p.GPSFix {
		resp.Latitude = p.GPS.Latitude
		resp.Longitude = p.GPS.Longitude
		resp.Satellites = p.GPS.Satellites
	}
	resp.SegmentCounts = make(map[string]int, len(status.SegmentCounts))
	for k, v := range status.SegmentCounts {
		resp.SegmentCounts[string(k)] = v
	}
	resp.JournalPath = status.JournalPath
	resp.LockPath = status.LockPath
	resp.DaemonPID = status.PID
	return nil
}

func (s *service) Storage(_ StorageRequest, resp *StorageResponse) error {
	ev := s.daemon.Storage()
	resp.State = ev.State.String()
	resp.Previous = ev.Previous.String()
	resp.Since = ev.Since
	resp.Reason = ev.Reason
	return nil
}

func (s *service) Indicator(_ IndicatorRequest, resp *IndicatorResponse) error {
	resp.Signal = s.daemon.Indicator().String()
	return nil
}
