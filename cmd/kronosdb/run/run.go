package run

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kronosdb/kronosdb/cmd/kronosdb/options"
	"github.com/kronosdb/kronosdb/pkg/logger"
	"github.com/kronosdb/kronosdb/server"
)

var run_examples = `  kronosdb run
  kronosdb`

// Version is stamped by main from the linker-populated build info and
// reported by /ping?verbose=true and /status.
var Version = "unknown"

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "run",
		Short:   "run node with existing configuration",
		Long:    "Runs the KronosDB server.",
		Example: run_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PreRun: func(cmd *cobra.Command, args []string) {
			if err := logger.InitZapLogger(logger.NewDefaultLogConfig()); err != nil {
				fmt.Println("Unable to configure logger.")
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			config, err := ParseConfig(options.Env.GetConfigPath())
			if err != nil {
				fmt.Printf("parse config: %s\n", err)
				return
			}

			if err := config.Validate(); err != nil {
				fmt.Printf("validate config: %s\n", err)
				return
			}

			if err := logger.InitZapLogger(config.Log); err != nil {
				fmt.Printf("parse log config: %s\n", err)
			}

			d := &KronosDB{
				Server: server.NewServer(config),
				Logger: logger.BgLogger(),
			}
			d.Server.Version = Version

			if err := d.Server.Open(); err != nil {
				fmt.Printf("open server: %s\n", err)
				return
			}

			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

			// Block until a signal arrives.
			<-signalCh
			d.Logger.Info("Shutdown signal received")

			go d.Server.Close()

			select {
			case <-signalCh:
				fmt.Println("Second signal received, initializing hard shutdown")
			case <-time.After(time.Second * 30):
				fmt.Println("Time limit reached, initializing hard shutdown")
			case <-d.Server.Err():
			}
		},
	}
	return c
}

type KronosDB struct {
	Server *server.Server
	Logger *zap.Logger
}

// ParseConfig parses the config at path.
// It returns a demo configuration if path is blank.
func ParseConfig(path string) (*server.Config, error) {
	// Use demo configuration if no config path is specified.
	if path == "" {
		logger.BgLogger().Info("No configuration provided, using default settings")
		config, err := server.NewDemoConfig()
		if err != nil {
			return config, err
		}
		if err := config.ApplyEnvOverrides(os.Getenv); err != nil {
			return config, fmt.Errorf("apply env config: %v", err)
		}
		return config, nil
	}

	logger.BgLogger().Info("Loading configuration file", zap.String("path", path))

	config := server.NewConfig()
	if err := config.FromTomlFile(path); err != nil {
		return nil, err
	}

	if err := config.ApplyEnvOverrides(os.Getenv); err != nil {
		return nil, fmt.Errorf("apply env config: %v", err)
	}
	return config, nil
}
