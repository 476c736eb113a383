package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kronosdb/kronosdb/cmd/kronosdb/backup"
	"github.com/kronosdb/kronosdb/cmd/kronosdb/options"
	"github.com/kronosdb/kronosdb/cmd/kronosdb/run"
)

// These variables are populated via the Go linker.
var (
	version string
	commit  string
	branch  string
)

func init() {
	// If commit, branch, or build time are not set, make that clear.
	if version == "" {
		version = "unknown"
	}
	if commit == "" {
		commit = "unknown"
	}
	if branch == "" {
		branch = "unknown"
	}
}

var kronosdb_examples = `  kronosdb
  kronosdb --config ./kronosdb.conf`

func main() {
	rand.Seed(time.Now().UnixNano())
	run.Version = version
	mainCmd := GetCommand()
	setFlags(mainCmd)
	runCmd := run.GetCommand()
	setFlags(runCmd)
	mainCmd.AddCommand(runCmd)
	mainCmd.AddCommand(run.GetConfigCommand())
	mainCmd.AddCommand(backup.GetCommand())
	mainCmd.AddCommand(printBuildInfo())

	if err := mainCmd.Execute(); err != nil {
		fmt.Printf("Error : %+v\n", err)
	}
}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "kronosdb [command]",
		Long:    "The 'kronosdb' command starts and runs all the processes necessary for KronosDB to function.",
		Example: kronosdb_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			runCmd := run.GetCommand()
			setFlags(runCmd)
			runArgs := os.Args[:]
			runArgs[0] = "run"
			runCmd.SetArgs(runArgs)
			if err := runCmd.Execute(); err != nil {
				fmt.Printf("Error : %+v\n", err)
			}
		},
	}
	return c
}

func printBuildInfo() *cobra.Command {
	return &cobra.Command{
		Use:  "version",
		Long: "displays the KronosDB version",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableNoDescFlag:   true,
			DisableDescriptions: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("KronosDB v%s (git: %s %s)\n", version, branch, commit)
		},
	}
}

func setFlags(c *cobra.Command) {
	c.Flags().StringVarP(&options.Env.ConfigFile, "config", "c", "", `Set the path to the configuration file.
This defaults to the environment variable KRONOSDB_CONFIG_PATH,
~/.kronosdb/kronosdb.conf, or /etc/kronosdb/kronosdb.conf if a file
is present at any of these locations.
Disable the automatic loading of a configuration file using
the null device (such as /dev/null)`)
	c.Flags().StringVarP(&options.Env.PidFile, "pidfile", "", "", "Write process ID to a file.")
	c.Flags().StringVarP(&options.Env.CpuProfile, "cpuprofile", "", "", "Write CPU profiling information to a file.")
	c.Flags().StringVarP(&options.Env.MemProfile, "memprofile", "", "", "Write memory usage information to a file.")
}
