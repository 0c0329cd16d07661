// Package cli holds the command-line plumbing of twinbud: named
// configuration contexts, output formatting and status rendering.
//
// Configuration lives in ~/.twinbud/<app>/config.yaml. Each context
// describes one earbud, so a primary and a secondary can be run side by
// side on one host:
//
//	cfg, err := cli.LoadConfig("twinbud")
//	ctx, err := cfg.ResolveContext("left")
//	opts, err := ctx.DeviceSettings()
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/twinbud/pkg/feature"
	"github.com/haivivi/twinbud/pkg/pipeline"
)

const (
	// DefaultBaseDir is the base configuration directory name.
	DefaultBaseDir = ".twinbud"
	// DefaultConfigFile is the configuration filename.
	DefaultConfigFile = "config.yaml"
)

var (
	ErrContextNotFound = errors.New("cli: context not found")
	ErrNoContext       = errors.New("cli: no current context set")
)

// Config is the configuration file of a CLI app.
type Config struct {
	AppName string `yaml:"-"`

	CurrentContext string              `yaml:"current_context,omitempty"`
	Contexts       map[string]*Context `yaml:"contexts,omitempty"`

	configPath string
}

// Context is the configuration of one earbud.
type Context struct {
	Name string `yaml:"name"`

	// Role is "primary" or "secondary".
	Role string `yaml:"role,omitempty"`

	// Listen is the address the peer link accepts connections on.
	Listen string `yaml:"listen,omitempty"`

	// PeerURL is the peer link URL to dial, e.g. ws://127.0.0.1:7100/peer.
	PeerURL string `yaml:"peer_url,omitempty"`

	// Socket is the control socket path. Default depends on the context name.
	Socket string `yaml:"socket,omitempty"`

	// DataDir holds the persistent store. Default is the app data dir.
	DataDir string `yaml:"data_dir,omitempty"`

	SettleDelayMs   int `yaml:"settle_delay_ms,omitempty"`
	SidetoneDelayMs int `yaml:"sidetone_delay_ms,omitempty"`

	// ApplyInCase lists the features whose commands take effect in the case.
	ApplyInCase []string `yaml:"apply_in_case,omitempty"`

	// AncPath is hybrid (default), feedforward, feedback or none.
	AncPath string `yaml:"anc_path,omitempty"`

	// TuningUSBBundle also loads the USB audio bundle for ANC tuning.
	TuningUSBBundle bool `yaml:"tuning_usb_bundle,omitempty"`
}

// LoadConfig loads or creates the configuration of appName.
func LoadConfig(appName string) (*Config, error) {
	return LoadConfigWithPath(appName, "")
}

// LoadConfigWithPath loads configuration from customPath, or from the
// default location when it is empty.
func LoadConfigWithPath(appName, customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		paths, err := NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("cli: home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, fmt.Errorf("cli: create config directory: %w", err)
	}

	cfg := &Config{
		AppName:    appName,
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Save()
		}
		return nil, fmt.Errorf("cli: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cli: parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	for name, ctx := range cfg.Contexts {
		ctx.Name = name
	}
	cfg.AppName = appName
	cfg.configPath = configPath
	return cfg, nil
}

// Save writes the configuration to disk.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cli: marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("cli: write config: %w", err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string { return c.configPath }

// Dir returns the config directory.
func (c *Config) Dir() string { return filepath.Dir(c.configPath) }

// AddContext adds or replaces a context after validating it.
func (c *Config) AddContext(name string, ctx *Context) error {
	ctx.Name = name
	if _, err := ctx.DeviceSettings(); err != nil {
		return err
	}
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return c.Save()
}

// DeleteContext removes a context.
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context.
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns the named context.
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	return ctx, nil
}

// ResolveContext returns the named context, or the current one if name is
// empty.
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		if c.CurrentContext == "" {
			return nil, ErrNoContext
		}
		name = c.CurrentContext
	}
	return c.GetContext(name)
}

// ListContexts returns the context names in order.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DeviceSettings is the parsed form of a context.
type DeviceSettings struct {
	Role            feature.Role
	AncPath         pipeline.AncPath
	SettleDelay     time.Duration
	SidetoneDelay   time.Duration
	ApplyInCase     map[feature.Kind]bool
	TuningUSBBundle bool
}

// DeviceSettings parses the device fields of the context.
func (ctx *Context) DeviceSettings() (DeviceSettings, error) {
	var ds DeviceSettings
	if ctx.Role != "" {
		if err := ds.Role.UnmarshalText([]byte(ctx.Role)); err != nil {
			return ds, fmt.Errorf("cli: context %q: %w", ctx.Name, err)
		}
	}
	path, err := pipeline.ParseAncPath(ctx.AncPath)
	if err != nil {
		return ds, fmt.Errorf("cli: context %q: %w", ctx.Name, err)
	}
	ds.AncPath = path
	if ctx.SettleDelayMs < 0 || ctx.SidetoneDelayMs < 0 {
		return ds, fmt.Errorf("cli: context %q: negative delay", ctx.Name)
	}
	ds.SettleDelay = time.Duration(ctx.SettleDelayMs) * time.Millisecond
	ds.SidetoneDelay = time.Duration(ctx.SidetoneDelayMs) * time.Millisecond
	ds.ApplyInCase = make(map[feature.Kind]bool, len(ctx.ApplyInCase))
	for _, name := range ctx.ApplyInCase {
		k, err := feature.ParseKind(name)
		if err != nil {
			return ds, fmt.Errorf("cli: context %q: %w", ctx.Name, err)
		}
		ds.ApplyInCase[k] = true
	}
	ds.TuningUSBBundle = ctx.TuningUSBBundle
	return ds, nil
}
