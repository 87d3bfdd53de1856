// Command icqclient runs one ICQ account headless, with an HTTP control API
// and a live signal stream
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-icq/pkg/config"
	"github.com/ZentaChain/zentalk-icq/pkg/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globals are the persistent flags shared by every subcommand
type globals struct {
	configPath string
	logLevel   string
	dev        bool
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "icqclient",
		Short: "Headless ICQ client with a control API",
		Long: `icqclient logs one account on to an ICQ server and keeps it online.

  • Roster kept in a local SQLite database
  • HTTP control API and WebSocket signal stream
  • Prometheus metrics for packets and events`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		runCmd(g),
		registerCmd(g),
		decodeCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func (g *globals) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "", "path to the YAML config file")
	fs.StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	fs.BoolVar(&g.dev, "dev", false, "human readable development logs")
}

// load reads the config file and applies the persistent flag overrides
func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.dev {
		cfg.Log.Development = true
	}
	return cfg, nil
}

func (g *globals) logger(cfg *config.Config) (*zap.SugaredLogger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}
