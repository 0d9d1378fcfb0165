// repodrop saves documents into a cloud document repository.
//
// Commands:
//   - serve: the upload page, its JSON API and an SSE notification stream
//   - login / logout: sign in through the browser, or forget the saved token
//   - repos, browse, mkdir: inspect and organize the repository
//   - save: import a local or S3 file with template metadata
//   - history: list past imports from the journal
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "repodrop",
		Short:         "Save documents to a document repository",
		Long:          `repodrop signs in to a document repository, browses its folders and imports files with template metadata.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (defaults to the user config directory)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(reposCmd())
	rootCmd.AddCommand(browseCmd())
	rootCmd.AddCommand(mkdirCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
