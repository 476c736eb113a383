// Package cli implements the interactive KronosDB shell.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kronosdb/kronosdb/client"
)

var (
	version string

	commandLine = newCommandLine(version)

	promptForPassword = false
)

const (
	// defaultFormat is the default rendering of result sets.
	defaultFormat = "column"

	// defaultPrecision is the default timestamp resolution on the wire.
	defaultPrecision = "ms"
)

func init() {
	if version == "" {
		version = "0.0.1"
	}
}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "kronosdb-cli",
		Long:    description,
		Example: examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PreRun: func(cmd *cobra.Command, args []string) {
			if commandLine.clientConfig.Password == "" {
				for _, arg := range args {
					a := strings.ToLower(arg)
					if strings.HasPrefix(a, "--password") || strings.HasPrefix(a, "-p") {
						promptForPassword = true
						break
					}
				}
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			if err := commandLine.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", err)
				os.Exit(1)
			}
		},
	}

	flags := c.Flags()
	flags.StringVar(&commandLine.Host, "host", client.DEFAULT_HOST, "Host of the KronosDB instance to connect to.")
	flags.IntVar(&commandLine.Port, "port", client.DEFAULT_PORT, "Port of the KronosDB instance to connect to.")
	flags.StringVarP(&commandLine.clientConfig.Username, "username", "u", "", "Username to login to the server.")
	flags.StringVarP(&commandLine.clientConfig.Password, "password", "p", "", `Password to login to the server. If password is not given, it's the same as using (--password="").`)
	flags.StringVar(&commandLine.clientConfig.APIKey, "api-key", "", "Database api key to authenticate with.")
	flags.StringVar(&commandLine.Database, "database", "", "Database to use.")
	flags.BoolVar(&commandLine.Ssl, "ssl", false, "Use https for connecting to the server.")
	flags.StringVar(&commandLine.Format, "format", defaultFormat, "The format of the server responses:  json, csv, or column.")
	flags.BoolVar(&commandLine.Pretty, "pretty", false, "Turns on pretty print for the json format.")
	flags.StringVar(&commandLine.Precision, "precision", defaultPrecision, "The format of the timestamp:  s, ms or u.")

	return c
}

var description = `KronosDB shell`

var examples = `  kronosdb-cli
  kronosdb-cli --format=json --pretty
  kronosdb-cli --database mydb`
