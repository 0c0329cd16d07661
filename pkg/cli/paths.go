package cli

import (
	"os"
	"path/filepath"
)

// Paths locates the per-app directories under ~/.twinbud.
type Paths struct {
	AppName string
	HomeDir string
}

// NewPaths returns the paths of appName in the user's home directory.
func NewPaths(appName string) (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{AppName: appName, HomeDir: home}, nil
}

// BaseDir returns ~/.twinbud.
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// AppDir returns ~/.twinbud/<app>.
func (p *Paths) AppDir() string {
	return filepath.Join(p.BaseDir(), p.AppName)
}

// ConfigFile returns ~/.twinbud/<app>/config.yaml.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// DataDir returns ~/.twinbud/<app>/data.
func (p *Paths) DataDir() string {
	return filepath.Join(p.AppDir(), "data")
}

// DataPath returns a path within the data directory.
func (p *Paths) DataPath(name string) string {
	return filepath.Join(p.DataDir(), name)
}

// EnsureDataDir creates the data directory if needed.
func (p *Paths) EnsureDataDir() error {
	return os.MkdirAll(p.DataDir(), 0755)
}
