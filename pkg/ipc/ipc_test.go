package ipc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/haivivi/twinbud/pkg/earbud"
	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/pipeline"
)

func startServer(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dev, err := earbud.New(ctx, earbud.Options{AncPath: pipeline.AncPathHybrid})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bud.sock")
	ln, err := Listen(path)
	if err != nil {
		t.Fatal(err)
	}
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		dev.Run(ctx)
	}()
	srvDone := make(chan error, 1)
	go func() { srvDone <- NewServer(dev, nil).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-srvDone; err != nil {
			t.Errorf("Serve: %v", err)
		}
		<-loopDone
		dev.Close()
	})
	return &Client{Path: path}
}

func u8(v uint8) *uint8 { return &v }

func call(t *testing.T, c *Client, req Request) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Call(ctx, req)
	if err != nil {
		t.Fatalf("%s: %v", req.Command, err)
	}
	return resp
}

func TestFeatureCommands(t *testing.T) {
	c := startServer(t)

	resp := call(t, c, Request{Command: CmdStatus})
	if !resp.OK || resp.Status == nil {
		t.Fatalf("status = %+v", resp)
	}
	if resp.Status.Pipeline.Anc != pipeline.AncOff {
		t.Fatalf("anc = %s, want off", resp.Status.Pipeline.Anc)
	}

	call(t, c, Request{Command: CmdEnable, Feature: "anc"})
	call(t, c, Request{Command: CmdSetMode, Feature: "anc", Mode: u8(4)})
	resp = call(t, c, Request{Command: CmdSetGain, Gain: u8(90)})

	want := feature.State{Enabled: true, Mode: 4, Gain: 90}
	if got := resp.Status.Features["anc"].State; got != want {
		t.Fatalf("anc = %v, want %v", got, want)
	}
	if resp.Status.Pipeline.Anc != pipeline.AncOn {
		t.Fatalf("pipeline anc = %s", resp.Status.Pipeline.Anc)
	}
}

func TestErrors(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown command", Request{Command: "reboot"}},
		{"unknown feature", Request{Command: CmdEnable, Feature: "eq"}},
		{"missing mode", Request{Command: CmdSetMode, Feature: "anc"}},
		{"missing gain", Request{Command: CmdSetGain}},
		{"mode while disabled", Request{Command: CmdSetMode, Feature: "anc", Mode: u8(1)}},
		{"bad sco", Request{Command: CmdScoStart, Sco: "hd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.Call(ctx, tt.req)
			if !errors.Is(err, ErrRemote) {
				t.Fatalf("err = %v, want ErrRemote", err)
			}
			if resp.OK || resp.Error == "" {
				t.Fatalf("resp = %+v", resp)
			}
		})
	}
}

func TestUseCases(t *testing.T) {
	c := startServer(t)

	resp := call(t, c, Request{Command: CmdScoStart, Sco: "wb"})
	if got := resp.Status.Pipeline.State; got != pipeline.ScoActive {
		t.Fatalf("state = %s, want sco_active", got)
	}
	resp = call(t, c, Request{Command: CmdScoStop})
	if got := resp.Status.Pipeline.State; got != pipeline.Idle {
		t.Fatalf("state = %s, want idle", got)
	}

	resp = call(t, c, Request{Command: CmdCalibration})
	if !resp.ProductionTest {
		t.Fatal("production test flag not reported")
	}
	resp = call(t, c, Request{Command: CmdEndCalibration})
	if resp.ProductionTest {
		t.Fatal("production test flag not cleared")
	}
}

func TestDialFailure(t *testing.T) {
	c := &Client{Path: filepath.Join(t.TempDir(), "none.sock")}
	if _, err := c.Call(context.Background(), Request{Command: CmdStatus}); err == nil {
		t.Fatal("expected error")
	}
}
