package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/pipeline"
)

func TestLoadConfig_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := LoadConfigWithPath("twinbud", path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
	if len(cfg.Contexts) != 0 {
		t.Errorf("Contexts = %v, want empty", cfg.Contexts)
	}
}

func TestConfig_Contexts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfigWithPath("twinbud", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddContext("left", &Context{Role: "primary", Listen: ":7100"}); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if err := cfg.AddContext("right", &Context{Role: "secondary", PeerURL: "ws://127.0.0.1:7100/peer"}); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if cfg.CurrentContext != "left" {
		t.Errorf("CurrentContext = %q, want first added", cfg.CurrentContext)
	}
	if err := cfg.UseContext("right"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadConfigWithPath("twinbud", path)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := reloaded.ResolveContext("")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Name != "right" || ctx.PeerURL != "ws://127.0.0.1:7100/peer" {
		t.Errorf("current = %+v", ctx)
	}
	if got := reloaded.ListContexts(); strings.Join(got, ",") != "left,right" {
		t.Errorf("ListContexts = %v", got)
	}

	if err := reloaded.DeleteContext("right"); err != nil {
		t.Fatal(err)
	}
	if _, err := reloaded.ResolveContext(""); !errors.Is(err, ErrNoContext) {
		t.Errorf("after delete: %v, want ErrNoContext", err)
	}
	if err := reloaded.UseContext("right"); !errors.Is(err, ErrContextNotFound) {
		t.Errorf("UseContext deleted: %v", err)
	}
}

func TestContext_DeviceSettings(t *testing.T) {
	ctx := &Context{
		Name:            "right",
		Role:            "secondary",
		AncPath:         "feedforward",
		SettleDelayMs:   20,
		SidetoneDelayMs: 150,
		ApplyInCase:     []string{"lt"},
	}
	ds, err := ctx.DeviceSettings()
	if err != nil {
		t.Fatal(err)
	}
	if ds.Role != feature.Secondary {
		t.Errorf("Role = %s", ds.Role)
	}
	if ds.AncPath != pipeline.AncPathFeedForward {
		t.Errorf("AncPath = %s", ds.AncPath)
	}
	if ds.SettleDelay != 20*time.Millisecond || ds.SidetoneDelay != 150*time.Millisecond {
		t.Errorf("delays = %v, %v", ds.SettleDelay, ds.SidetoneDelay)
	}
	if !ds.ApplyInCase[feature.Leakthrough] || ds.ApplyInCase[feature.ANC] {
		t.Errorf("ApplyInCase = %v", ds.ApplyInCase)
	}

	defaults, err := (&Context{Name: "d"}).DeviceSettings()
	if err != nil {
		t.Fatal(err)
	}
	if defaults.Role != feature.Primary || defaults.AncPath != pipeline.AncPathHybrid {
		t.Errorf("defaults = %+v", defaults)
	}
}

func TestContext_DeviceSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
	}{
		{"role", Context{Role: "left"}},
		{"anc path", Context{AncPath: "adaptive"}},
		{"delay", Context{SettleDelayMs: -1}},
		{"feature", Context{ApplyInCase: []string{"eq"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.ctx.DeviceSettings(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfig_AddContextRejectsInvalid(t *testing.T) {
	cfg, err := LoadConfigWithPath("twinbud", filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddContext("bad", &Context{Role: "middle"}); err == nil {
		t.Fatal("expected error")
	}
	if len(cfg.Contexts) != 0 {
		t.Errorf("invalid context stored")
	}
}
