package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Paintersrp/corral/internal/procdir"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// File mirrors the corral.yaml document structure.
type File struct {
	Version    string              `yaml:"version"`
	Products   map[string]*Product `yaml:"products"`
	Aliases    map[string][]string `yaml:"aliases,omitempty"`
	Startup    []StartupEntry      `yaml:"startup,omitempty"`
	Supervisor SupervisorSpec      `yaml:"supervisor"`
	API        APISpec             `yaml:"api"`
	Logging    LoggingSpec         `yaml:"logging"`
}

// Product groups the applications installed under one product name.
type Product struct {
	Apps map[string]*App `yaml:"apps"`
}

// App locates an executable and its shutdown level. Higher levels are
// stopped first during a full shutdown.
type App struct {
	Path  string `yaml:"path"`
	Level int    `yaml:"level"`
}

// StartupEntry requests that an application is launched once the supervisor
// has booted. OneShot entries are removed after their first launch.
type StartupEntry struct {
	Product string `yaml:"product" json:"product"`
	App     string `yaml:"app" json:"app"`
	Params  string `yaml:"params,omitempty" json:"params,omitempty"`
	OneShot bool   `yaml:"oneShot,omitempty" json:"oneShot,omitempty"`
}

// SupervisorSpec tunes the launch manager and its reaper.
type SupervisorSpec struct {
	CheckInterval  Duration `yaml:"checkInterval"`
	GracePeriod    Duration `yaml:"gracePeriod"`
	LaunchWait     Duration `yaml:"launchWait"`
	BootDelay      Duration `yaml:"bootDelay"`
	DrainPoll      Duration `yaml:"drainPoll"`
	ShutdownSignal string   `yaml:"shutdownSignal"`
	GagExempt      []string `yaml:"gagExempt,omitempty"`
	TrackingExempt []string `yaml:"trackingExempt,omitempty"`
	TokenEnv       string   `yaml:"tokenEnv"`
}

// APISpec configures the HTTP control endpoint.
type APISpec struct {
	Addr string `yaml:"addr"`
}

// LoggingSpec configures the supervisor's structured log output.
type LoggingSpec struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format,omitempty"`
	Output string `yaml:"output"`
}

const (
	defaultCheckInterval = 4 * time.Second
	defaultGracePeriod   = 90 * time.Second
	defaultLaunchWait    = 4 * time.Second
	defaultBootDelay     = 2 * time.Second
	defaultDrainPoll     = 40 * time.Millisecond

	// DefaultTokenEnv names the environment variable holding the control token.
	DefaultTokenEnv = "CORRAL_CONTROL_TOKEN"
	// DefaultAPIAddr is the loopback address the control API listens on.
	DefaultAPIAddr = "127.0.0.1:7664"
)

// ApplyDefaults fills in supervisor timings, API and logging settings that
// were not provided.
func (f *File) ApplyDefaults() {
	if f.Products == nil {
		f.Products = map[string]*Product{}
	}
	sup := &f.Supervisor
	if !sup.CheckInterval.IsSet() {
		sup.CheckInterval.Duration = defaultCheckInterval
	}
	if !sup.GracePeriod.IsSet() {
		sup.GracePeriod.Duration = defaultGracePeriod
	}
	if !sup.LaunchWait.IsSet() {
		sup.LaunchWait.Duration = defaultLaunchWait
	}
	if !sup.BootDelay.IsSet() {
		sup.BootDelay.Duration = defaultBootDelay
	}
	if !sup.DrainPoll.IsSet() {
		sup.DrainPoll.Duration = defaultDrainPoll
	}
	if strings.TrimSpace(sup.ShutdownSignal) == "" {
		sup.ShutdownSignal = procdir.DefaultShutdownSignal
	}
	if strings.TrimSpace(sup.TokenEnv) == "" {
		sup.TokenEnv = DefaultTokenEnv
	}
	if strings.TrimSpace(f.API.Addr) == "" {
		f.API.Addr = DefaultAPIAddr
	}
	if strings.TrimSpace(f.Logging.Level) == "" {
		f.Logging.Level = "info"
	}
	if strings.TrimSpace(f.Logging.Output) == "" {
		f.Logging.Output = "stderr"
	}
}

// Validate checks the document for structural errors.
func (f *File) Validate() error {
	names := make([]string, 0, len(f.Products))
	for name := range f.Products {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		product := f.Products[name]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("products: product name must not be empty")
		}
		if product == nil {
			continue
		}
		for appName, app := range product.Apps {
			field := appField(name, appName)
			if app == nil {
				return fmt.Errorf("%s: definition must not be empty", field)
			}
			if strings.TrimSpace(app.Path) == "" {
				return fmt.Errorf("%s: path must not be empty", field)
			}
			if app.Level < 0 {
				return fmt.Errorf("%s: level must be >= 0", field)
			}
		}
	}

	for product, targets := range f.Aliases {
		for idx, target := range targets {
			if strings.TrimSpace(target) == "" {
				return fmt.Errorf("aliases for %s[%d]: target must not be empty", product, idx)
			}
		}
	}

	seen := make(map[string]struct{}, len(f.Startup))
	for idx, entry := range f.Startup {
		if strings.TrimSpace(entry.Product) == "" || strings.TrimSpace(entry.App) == "" {
			return fmt.Errorf("startup[%d]: product and app are required", idx)
		}
		key := entry.Product + "/" + entry.App
		if _, dup := seen[key]; dup {
			return fmt.Errorf("startup[%d] (%s): duplicate entry for %s", idx, key, key)
		}
		seen[key] = struct{}{}
	}

	sup := f.Supervisor
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"checkInterval", sup.CheckInterval},
		{"gracePeriod", sup.GracePeriod},
		{"launchWait", sup.LaunchWait},
		{"bootDelay", sup.BootDelay},
		{"drainPoll", sup.DrainPoll},
	} {
		if d.value.Duration < 0 {
			return fmt.Errorf("supervisor.%s must be >= 0", d.name)
		}
	}
	if sup.CheckInterval.Duration == 0 {
		return fmt.Errorf("supervisor.checkInterval must be > 0")
	}
	if sup.DrainPoll.Duration == 0 {
		return fmt.Errorf("supervisor.drainPoll must be > 0")
	}
	if err := procdir.ValidateSignal(sup.ShutdownSignal); err != nil {
		return fmt.Errorf("supervisor.shutdownSignal: %w", err)
	}

	switch strings.ToLower(f.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	switch strings.ToLower(strings.TrimSpace(f.Logging.Output)) {
	case "", "stdout", "stderr":
	default:
		return fmt.Errorf("logging.output must be stdout or stderr, got %q", f.Logging.Output)
	}
	return nil
}

// Token returns the control token from the environment variable named by
// supervisor.tokenEnv. An empty token disables the gag endpoints.
func (s SupervisorSpec) Token() string {
	name := s.TokenEnv
	if name == "" {
		name = DefaultTokenEnv
	}
	return os.Getenv(name)
}

func appField(product, app string) string {
	return fmt.Sprintf("app %s/%s", product, app)
}

func resolvePath(base, path string) string {
	expanded := os.ExpandEnv(path)
	if filepath.IsAbs(expanded) || base == "" {
		return filepath.Clean(expanded)
	}
	return filepath.Clean(filepath.Join(base, expanded))
}
