package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	httpapi "github.com/Paintersrp/corral/internal/api/http"
	"github.com/Paintersrp/corral/internal/config"
)

const (
	envConfig        = "CORRAL_CONFIG"
	envAPIAddr       = "CORRAL_API_ADDR"
	envLogLevel      = "CORRAL_LOG_LEVEL"
	envStatusHistory = "CORRAL_STATUS_HISTORY"

	defaultConfigPath = "corral.yaml"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	configPath := defaultConfigPath
	if value := strings.TrimSpace(os.Getenv(envConfig)); value != "" {
		configPath = value
	}
	var apiAddr, token string

	root := &cobra.Command{
		Use:   "corral",
		Short: "Single-host application launcher and supervisor",
	}

	root.PersistentFlags().
		StringVarP(&configPath, "config", "c", configPath, "Path to the supervisor configuration (env "+envConfig+")")
	root.PersistentFlags().StringVar(&apiAddr, "addr", "", "Control API address (env "+envAPIAddr+", default from configuration)")
	root.PersistentFlags().StringVar(&token, "token", "", "Control token for the launching and shutdown commands (default from the configured token variable)")

	ctx := &context{configPath: &configPath, apiAddr: &apiAddr, token: &token}
	root.AddCommand(newServeCmd(ctx))
	root.AddCommand(newLaunchCmd(ctx))
	root.AddCommand(newStopCmd(ctx))
	root.AddCommand(newQueryCmd(ctx))
	root.AddCommand(newStartupCmd(ctx))
	root.AddCommand(newLaunchingCmd(ctx))
	root.AddCommand(newShutdownCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newPsCmd())
	root.AddCommand(newTuiCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	configPath *string
	apiAddr    *string
	token      *string

	mu      sync.Mutex
	tracker *statusTracker
}

func (c *context) loadConfig() (*config.File, error) {
	return config.Load(*c.configPath)
}

// controlAddr resolves the control API address from the flag, the
// environment, the configuration file and finally the built-in default.
func (c *context) controlAddr() string {
	if c.apiAddr != nil && strings.TrimSpace(*c.apiAddr) != "" {
		return strings.TrimSpace(*c.apiAddr)
	}
	if value := strings.TrimSpace(os.Getenv(envAPIAddr)); value != "" {
		return value
	}
	if doc, err := c.loadConfig(); err == nil && doc.API.Addr != "" {
		return doc.API.Addr
	}
	return config.DefaultAPIAddr
}

// controlToken resolves the control token from the flag or the environment
// variable named by the configuration.
func (c *context) controlToken() string {
	if c.token != nil && *c.token != "" {
		return *c.token
	}
	if doc, err := c.loadConfig(); err == nil {
		return doc.Supervisor.Token()
	}
	return os.Getenv(config.DefaultTokenEnv)
}

func (c *context) client() *httpapi.Client {
	return newClient(c.controlAddr(), c.controlToken())
}

var newClient = httpapi.NewClient

func (c *context) statusTracker() *statusTracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracker == nil {
		var opts []StatusTrackerOption
		if value := os.Getenv(envStatusHistory); value != "" {
			if size, err := strconv.Atoi(value); err == nil {
				opts = append(opts, WithHistorySize(size))
			}
		}
		c.tracker = newStatusTracker(opts...)
	}
	return c.tracker
}

// applyEnvOverrides layers environment settings over a loaded configuration.
func applyEnvOverrides(doc *config.File) {
	if value := strings.TrimSpace(os.Getenv(envAPIAddr)); value != "" {
		doc.API.Addr = value
	}
	if value := strings.TrimSpace(os.Getenv(envLogLevel)); value != "" {
		doc.Logging.Level = value
	}
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "dev"
	}
	return info.Main.Version
}
