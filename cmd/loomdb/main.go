// Package main provides the LoomDB CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftlabs/loomdb/pkg/config"
	"github.com/weftlabs/loomdb/pkg/loomdb"
	"github.com/weftlabs/loomdb/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var dataDir string

func main() {
	rootCmd := &cobra.Command{
		Use:   "loomdb",
		Short: "LoomDB - File-Backed Work-Tracking Graph Store",
		Long: `LoomDB persists a project's work-tracking graph (features, sessions,
tracks) as one JSON record per node, with atomic writes, cross-process
locking, and cached selector queries.

Safe for concurrent use by independent tools, agents, and hooks: no reader
ever observes a partially written record, and a crash mid-write never
corrupts existing data.`,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", envOr("LOOMDB_DATA_DIR", "./loom"),
		"store root directory")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("LoomDB v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize a store directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Printf("Initialized store at %s\n", dataDir)
			return nil
		},
	})

	createCmd := &cobra.Command{
		Use:   "create <collection> <title>",
		Short: "Create a node",
		Long:  "Create a node in a collection (features, sessions, or tracks).",
		Args:  cobra.ExactArgs(2),
		RunE:  runCreate,
	}
	createCmd.Flags().String("status", "", "initial status (todo, in-progress, blocked, done, archived)")
	createCmd.Flags().String("priority", "", "priority (low, normal, high, urgent)")
	createCmd.Flags().StringSlice("tag", nil, "tag (repeatable)")
	createCmd.Flags().String("content", "", "content body; [[id]] references become edges")
	rootCmd.AddCommand(createCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one node",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list <collection>",
		Short: "List nodes in a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "query <selector>",
		Short: "Run a selector query",
		Long: `Run an attribute selector against the store, e.g.:

  loomdb query "[status=blocked]"
  loomdb query "[collection=features][priority=high]"`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	})

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a node's attributes",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdate,
	}
	updateCmd.Flags().String("status", "", "new status")
	updateCmd.Flags().String("priority", "", "new priority")
	rootCmd.AddCommand(updateCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a node and its record file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Delete(storage.NodeID(args[0])); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	})

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim orphaned temp files left by crashed writers",
		RunE:  runSweep,
	}
	sweepCmd.Flags().Duration("min-age", time.Hour, "only remove temp files older than this")
	rootCmd.AddCommand(sweepCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the analytics index from the record files",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Reindex(); err != nil {
				if errors.Is(err, storage.ErrLockTimeout) {
					fmt.Println("Store is busy; nothing changed, try again.")
					return nil
				}
				return err
			}
			fmt.Println("Analytics index rebuilt.")
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show store and cache statistics",
		RunE:  runStats,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore() (*loomdb.DB, error) {
	cfg := config.LoadFromEnv()
	return loomdb.Open(dataDir, cfg)
}

func runCreate(cmd *cobra.Command, args []string) error {
	collection := storage.Collection(args[0])
	if storage.IDPrefix(collection) == "" {
		return fmt.Errorf("unknown collection %q (want features, sessions, or tracks)", args[0])
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	status, _ := cmd.Flags().GetString("status")
	priority, _ := cmd.Flags().GetString("priority")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	content, _ := cmd.Flags().GetString("content")

	node, err := db.Create(collection, args[1], storage.Attrs{
		Status:   status,
		Priority: priority,
		Tags:     tags,
	}, content)
	if err != nil {
		return err
	}
	fmt.Println(node.ID)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	node, err := db.Get(storage.NodeID(args[0]))
	if err != nil {
		return err
	}
	printNode(node)

	edges, err := db.Edges(node.ID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		marker := ""
		if e.Dangling {
			marker = " (unresolved)"
		}
		fmt.Printf("  -> %s [%s]%s\n", e.To, e.Type, marker)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	collection := storage.Collection(args[0])
	if storage.IDPrefix(collection) == "" {
		return fmt.Errorf("unknown collection %q", args[0])
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	for _, node := range db.List(collection) {
		printNode(node)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ids, err := db.Query(args[0])
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	status, _ := cmd.Flags().GetString("status")
	priority, _ := cmd.Flags().GetString("priority")

	node, err := db.Update(storage.NodeID(args[0]), func(n *storage.Node) error {
		if status != "" {
			n.Attrs.Status = status
		}
		if priority != "" {
			n.Attrs.Priority = priority
		}
		return nil
	})
	if err != nil {
		return err
	}
	printNode(node)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	minAge, _ := cmd.Flags().GetDuration("min-age")
	removed, err := db.Sweep(minAge)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d orphaned temp file(s)\n", removed)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	stats := db.Stats()
	fmt.Printf("Nodes:               %d\n", stats.Nodes)
	fmt.Printf("Generation:          %d\n", stats.Generation)
	fmt.Printf("Selectors compiled:  %d\n", stats.Queries.UniqueCompiled)
	fmt.Printf("Compile cache hits:  %d (%.1f%%)\n", stats.Queries.CompileHits, stats.Queries.CompileHitRate)
	fmt.Printf("Compiled cached:     %d\n", stats.Queries.CachedCompiled)
	fmt.Printf("Result cache hits:   %d\n", stats.Queries.ResultHits)

	report, err := db.Report()
	if err != nil {
		return err
	}
	if report != nil {
		fmt.Printf("Indexed nodes:       %d\n", report.TotalNodes)
		for c, n := range report.ByCollection {
			fmt.Printf("  %-18s %d\n", c+":", n)
		}
		for s, n := range report.ByStatus {
			fmt.Printf("  status %-11s %d\n", s+":", n)
		}
	}
	return nil
}

func printNode(n *storage.Node) {
	status := n.Attrs.Status
	if status == "" {
		status = "-"
	}
	fmt.Printf("%s  %-12s  %s\n", n.ID, status, n.Title)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
