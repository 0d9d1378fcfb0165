package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/repodrop/repodrop/internal/app"
	"github.com/repodrop/repodrop/internal/browser"
)

func reposCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List the repositories of the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			repos, err := rt.api.ListRepositories(ctx)
			if err != nil {
				return err
			}
			current, _ := rt.repo.CurrentRepoID(ctx)

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tID\tNAME")
			for _, r := range repos {
				mark := ""
				if r.RepoID == current {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, r.RepoID, r.RepoName)
			}
			return tw.Flush()
		},
	}
}

func browseCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   `browse [path]`,
		Short: "List a folder",
		Long:  `List a folder of the current repository. Paths use backslashes, e.g. '\Clients\Acme'.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			ctrl, err := rt.controller(ctx, stderrNotifier{})
			if err != nil {
				return err
			}
			if err := ctrl.OnClickBrowse(ctx); err != nil {
				return err
			}
			if len(args) == 1 {
				if err := ctrl.OpenFolder(ctx, args[0]); err != nil {
					return err
				}
			}

			st := ctrl.Snapshot().Browser
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printListing(st)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output the listing as JSON")
	return cmd
}

func printListing(st app.BrowserState) {
	if st.CurrentFolder != nil {
		fmt.Println(st.CurrentFolder.Path)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	headers := []string{"TYPE"}
	for _, c := range st.Columns {
		headers = append(headers, strings.ToUpper(c.DisplayName))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, n := range st.Items {
		row := []string{string(n.EntryType)}
		for _, c := range st.Columns {
			if c.ID == browser.NameColumn.ID {
				row = append(row, n.Name)
				continue
			}
			row = append(row, n.Attributes[c.ID])
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent> <name>",
		Short: "Create a folder",
		Long:  `Create a folder inside parent. When parent is a shortcut the folder is created in its target.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			ctrl, err := rt.controller(ctx, stderrNotifier{})
			if err != nil {
				return err
			}
			if err := ctrl.OnClickBrowse(ctx); err != nil {
				return err
			}
			if err := ctrl.OpenFolder(ctx, args[0]); err != nil {
				return err
			}
			if err := ctrl.MakeNewFolder(ctx, strings.TrimSpace(args[1])); err != nil {
				return err
			}
			fmt.Printf("Created %s\n", browser.JoinPath(args[0], strings.TrimSpace(args[1])))
			return nil
		},
	}
}

func saveCmd() *cobra.Command {
	var (
		folder   string
		file     string
		name     string
		template string
		fields   []string
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Import a file into a folder",
		Long: `Import a local file, or an object given as s3://bucket/key, into a repository
folder. Metadata is applied with --template and repeated --field name=value.`,
		Example: `  repodrop save --folder '\Clients\Acme' --file invoice.pdf --template Invoice --field Amount=12.50`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if _, err := rt.openJournal(ctx); err != nil {
				return err
			}
			ctrl, err := rt.controller(ctx, stderrNotifier{})
			if err != nil {
				return err
			}

			fileName, data, err := rt.files().Read(ctx, file)
			if err != nil {
				return err
			}
			if name != "" {
				fileName = name
			}
			ctrl.SelectFile(fileName, data)

			if err := ctrl.OnClickBrowse(ctx); err != nil {
				return err
			}
			if err := ctrl.OpenFolder(ctx, folder); err != nil {
				return err
			}
			if err := ctrl.OnSelectFolder(ctx); err != nil {
				return err
			}

			if err := ctrl.LoadTemplate(ctx, template); err != nil {
				return err
			}
			if err := ctrl.Form().SetPairs(fields); err != nil {
				return err
			}

			res, err := ctrl.OnClickSave(ctx)
			if err != nil {
				for field, msg := range ctrl.Form().Errors() {
					fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
				}
				return err
			}
			fmt.Printf("Imported %s as entry %d in %s\n", res.DocumentName, res.EntryID, folder)
			for _, w := range res.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "", `Destination folder path, e.g. '\Clients\Acme'`)
	cmd.Flags().StringVar(&file, "file", "", "File to import: a local path or s3://bucket/key")
	cmd.Flags().StringVar(&name, "name", "", "Document name (defaults to the file name)")
	cmd.Flags().StringVarP(&template, "template", "t", "", "Template to assign")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Field value as name=value (repeatable)")
	cmd.MarkFlagRequired("folder")
	cmd.MarkFlagRequired("file")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent imports from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			store, err := rt.openJournal(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tDOCUMENT\tFOLDER\tENTRY\tRESULT")
			for _, e := range entries {
				result := "ok"
				if !e.Success {
					result = e.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"), e.DocumentName, e.FolderPath, e.EntryID, result)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of imports to show")
	return cmd
}
