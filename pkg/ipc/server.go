package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/haivivi/twinbud/pkg/earbud"
	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/pipeline"
)

// DefaultToneDuration is used when a tone request carries no duration.
const DefaultToneDuration = 500 * time.Millisecond

// Device is the part of an earbud the control socket drives.
type Device interface {
	Status(ctx context.Context) (earbud.Status, error)
	Enable(ctx context.Context, k feature.Kind) error
	Disable(ctx context.Context, k feature.Kind) error
	SetMode(ctx context.Context, k feature.Kind, mode feature.Mode) error
	SetGain(ctx context.Context, gain uint8) error
	SetInCase(ctx context.Context, in bool) error

	StartA2dp(forwarding bool)
	StopA2dp()
	StartSco(mode pipeline.ScoMode, forwarding bool)
	StopSco()
	PlayTone(d time.Duration)
	StartTuning(usbRate int)
	StopTuning()

	ProductionTestMode(ctx context.Context) (bool, error)
	EnterCalibration(ctx context.Context) error
	EndCalibration(ctx context.Context) error
}

var _ Device = (*earbud.Device)(nil)

// Listen opens a unix socket at path, replacing a stale one.
func Listen(path string) (net.Listener, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0700); err != nil {
		ln.Close()
		return nil, fmt.Errorf("ipc: chmod %s: %w", path, err)
	}
	return ln, nil
}

// Server answers control requests for one device.
type Server struct {
	dev Device
	log *slog.Logger
}

// NewServer returns a server for dev.
func NewServer(dev Device, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dev: dev, log: logger}
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// waits for open connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	s.log.Info("ipc: listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(Response{Error: "invalid request: " + err.Error()})
		return
	}
	resp := s.Handle(ctx, req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("ipc: write response", "err", err)
	}
}

// Handle executes one request.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	s.log.Debug("ipc: request", "command", req.Command, "feature", req.Feature)
	if err := s.exec(ctx, req); err != nil {
		s.log.Warn("ipc: request failed", "command", req.Command, "err", err)
		return Response{Error: err.Error()}
	}
	st, err := s.dev.Status(ctx)
	if err != nil {
		return Response{Error: err.Error()}
	}
	prod, err := s.dev.ProductionTestMode(ctx)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{OK: true, Status: &st, ProductionTest: prod}
}

var errMissing = errors.New("ipc: missing argument")

func (s *Server) exec(ctx context.Context, req Request) error {
	switch req.Command {
	case CmdStatus:
		return nil
	case CmdEnable, CmdDisable, CmdSetMode:
		k, err := feature.ParseKind(req.Feature)
		if err != nil {
			return err
		}
		switch req.Command {
		case CmdEnable:
			return s.dev.Enable(ctx, k)
		case CmdDisable:
			return s.dev.Disable(ctx, k)
		}
		if req.Mode == nil {
			return fmt.Errorf("%w: mode", errMissing)
		}
		return s.dev.SetMode(ctx, k, feature.Mode(*req.Mode))
	case CmdSetGain:
		if req.Gain == nil {
			return fmt.Errorf("%w: gain", errMissing)
		}
		return s.dev.SetGain(ctx, *req.Gain)
	case CmdInCase:
		return s.dev.SetInCase(ctx, req.On)
	case CmdA2dpStart:
		s.dev.StartA2dp(req.Forwarding)
	case CmdA2dpStop:
		s.dev.StopA2dp()
	case CmdScoStart:
		mode, err := pipeline.ParseScoMode(req.Sco)
		if err != nil {
			return err
		}
		s.dev.StartSco(mode, req.Forwarding)
	case CmdScoStop:
		s.dev.StopSco()
	case CmdTone:
		d := time.Duration(req.DurationMs) * time.Millisecond
		if d <= 0 {
			d = DefaultToneDuration
		}
		s.dev.PlayTone(d)
	case CmdTuningStart:
		rate := req.Rate
		if rate == 0 {
			rate = pipeline.TuningRate
		}
		s.dev.StartTuning(rate)
	case CmdTuningStop:
		s.dev.StopTuning()
	case CmdCalibration:
		return s.dev.EnterCalibration(ctx)
	case CmdEndCalibration:
		return s.dev.EndCalibration(ctx)
	default:
		return fmt.Errorf("ipc: unknown command %q", req.Command)
	}
	return nil
}
