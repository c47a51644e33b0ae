package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"episoded/internal/catalog"
	"episoded/internal/common/fsutil"
	"episoded/internal/config"
	"episoded/internal/persist"
)

// dataRoot resolves the dataset root from --data-root or the configuration.
func dataRoot(rf *rootFlags, override string) (string, error) {
	if override != "" {
		return fsutil.ExpandHome(override)
	}
	cfg, err := config.Resolve(rf.configPath)
	if err != nil {
		return "", err
	}
	return cfg.DataRoot, nil
}

func openCatalog(root string) (*catalog.Store, error) {
	path := filepath.Join(root, catalog.FileName)
	if !fsutil.PathExists(path) {
		return nil, fmt.Errorf("no catalog at %s", path)
	}
	return catalog.Open(path)
}

func newCatalogCmd(rf *rootFlags) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Query the index of saved archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("catalog requires a subcommand: list|counts")
		},
	}
	cmd.PersistentFlags().StringVar(&root, "data-root", "", "Dataset root (defaults to the configured data_root)")

	var session string
	var limit int
	list := &cobra.Command{
		Use:     "list",
		Short:   "List recorded archives, newest first",
		Example: "  episoded catalog list --session 20250101T120000Z_1a2b3c4d --limit 20",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataRoot(rf, root)
			if err != nil {
				return err
			}
			store, err := openCatalog(dir)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.List(cmd.Context(), session, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCOUNTER\tEPISODE\tSPLIT\tSAMPLES\tSAVED\tPATH")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%s\t%s\n",
					e.Session, e.Counter, e.EpisodeID, e.Split, e.Samples, e.SavedAt.Format(time.RFC3339), e.Path)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&session, "session", "", "Only list this session")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum rows (0 = all)")

	counts := &cobra.Command{
		Use:   "counts",
		Short: "Show archive counts per split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataRoot(rf, root)
			if err != nil {
				return err
			}
			store, err := openCatalog(dir)
			if err != nil {
				return err
			}
			defer store.Close()
			c, err := store.Counts(cmd.Context())
			if err != nil {
				return err
			}
			splits := make([]string, 0, len(c))
			for s := range c {
				splits = append(splits, s)
			}
			sort.Strings(splits)
			for _, s := range splits {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", s, c[s])
			}
			return nil
		},
	}
	cmd.AddCommand(list, counts)
	return cmd
}

// newArchivesCmd lists archives straight from the filesystem, which also
// works when the catalog is disabled.
func newArchivesCmd(rf *rootFlags) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "Scan the dataset root for episode archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataRoot(rf, root)
			if err != nil {
				return err
			}
			list, err := persist.ListArchives(dir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSPLIT\tCOUNTER\tBYTES\tPATH")
			for _, a := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", a.Session, a.Split, a.Counter, a.Size, a.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&root, "data-root", "", "Dataset root (defaults to the configured data_root)")
	return cmd
}
