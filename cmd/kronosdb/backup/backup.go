// Package backup implements the "kronosdb backup" command.
package backup

import (
	"archive/tar"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	gzip "github.com/klauspost/pgzip"
	"github.com/spf13/cobra"

	"github.com/kronosdb/kronosdb/server"
	"github.com/kronosdb/kronosdb/server/snapshotter"
)

const (
	// Suffix is a suffix added to the backup while it's in-process.
	Suffix = ".pending"

	// BackupFilePattern names completed backup archives:
	// <database>.<timestamp>.tar.gz (or meta.<timestamp>.tar.gz).
	BackupFilePattern = "%s.%s.tar.gz"
)

var backup_examples = `  kronosdb backup ./backups
  kronosdb backup --database mydb --host 127.0.0.1:8088 ./backups`

type options struct {
	StdoutLogger *log.Logger

	host     string
	path     string
	database string
	extract  bool
}

var env = options{}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "backup [flags] PATH",
		Short:   "downloads a snapshot of the node and saves it to disk",
		Long:    "Creates a backup copy of the meta store, and optionally one database, and saves the archive to PATH.",
		Example: backup_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env.path = args[0]
			env.StdoutLogger = log.New(os.Stdout, "", log.LstdFlags)
			return env.run()
		},
	}

	c.Flags().StringVar(&env.host, "host", server.DefaultTCPBindAddress, "the TCP address of the node to back up")
	c.Flags().StringVar(&env.database, "database", "", "the database to back up; meta only when empty")
	c.Flags().BoolVar(&env.extract, "extract", false, "unpack the archive into PATH instead of keeping the tarball")

	return c
}

func (opt *options) run() error {
	if err := os.MkdirAll(opt.path, 0755); err != nil {
		return err
	}

	base := "meta"
	if opt.database != "" {
		base = opt.database
	}
	name := fmt.Sprintf(BackupFilePattern, base, time.Now().UTC().Format("20060102T150405Z"))
	target := filepath.Join(opt.path, name)

	f, err := os.Create(target + Suffix)
	if err != nil {
		return err
	}

	client := snapshotter.NewClient(opt.host)
	if opt.database != "" {
		err = client.BackupDatabase(opt.database, f)
	} else {
		err = client.BackupMeta(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target + Suffix)
		return err
	}

	if err := os.Rename(target+Suffix, target); err != nil {
		return err
	}
	opt.StdoutLogger.Printf("backup complete: %s", target)

	if opt.extract {
		if err := extractArchive(target, opt.path); err != nil {
			return err
		}
		opt.StdoutLogger.Printf("extracted to: %s", opt.path)
	}
	return nil
}

// extractArchive unpacks a gzipped tar backup into dir.
func extractArchive(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		out := filepath.Join(dir, filepath.Clean(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return err
		}

		w, err := os.Create(out)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, tr); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
}
