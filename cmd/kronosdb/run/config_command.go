package run

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/kronosdb/kronosdb/server"
)

var config_examples = `  kronosdb config`

func GetConfigCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "config",
		Short:   "display the default configuration",
		Long:    "Displays the default configuration.",
		Example: config_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if f := cmd.Flag("config"); f != nil {
				path = f.Value.String()
			}

			c, err := server.NewDemoConfig()
			if err != nil {
				c = server.NewConfig()
			}

			if path != "" {
				fmt.Fprintf(os.Stderr, "Merging with configuration at: %s\n", path)

				if err := c.FromTomlFile(path); err != nil {
					return err
				}

				if err := c.Validate(); err != nil {
					return fmt.Errorf("%s. To generate a valid configuration file run `kronosdb config > kronosdb.generated.conf`", err)
				}
			}

			return toml.NewEncoder(os.Stdout).Encode(c)
		},
	}

	c.Flags().StringP("config", "c", "", `Set the path to the configuration file.
This defaults to the environment variable KRONOSDB_CONFIG_PATH,
~/.kronosdb/kronosdb.conf, or /etc/kronosdb/kronosdb.conf if a file
is present at any of these locations.
Disable the automatic loading of a configuration file using
the null device (such as /dev/null)`)

	return c
}
