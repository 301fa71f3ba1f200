// Package main provides the vectordb CLI entry point: a thin wrapper
// over pkg/vectordb for local smoke-testing and scripting, not a
// production server (spec.md treats CLI argument plumbing as an
// out-of-scope collaborator concern).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/vectordb/pkg/config"
	"github.com/orneryd/vectordb/pkg/distance"
	"github.com/orneryd/vectordb/pkg/metadata"
	"github.com/orneryd/vectordb/pkg/vectordb"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "vectordb",
		Short: "vectordb - an embedded, on-disk approximate nearest-neighbor vector store",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vectordb v%s\n", version)
		},
	})

	createCmd := &cobra.Command{
		Use:   "create [dir]",
		Short: "Create a new database directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}
	createCmd.Flags().Uint32("dimension", 0, "vector dimension (required)")
	createCmd.Flags().String("metric", "cosine", "distance metric: cosine or l2")
	createCmd.MarkFlagRequired("dimension")
	rootCmd.AddCommand(createCmd)

	insertCmd := &cobra.Command{
		Use:   "insert [dir]",
		Short: "Insert one vector, reading comma-separated floats from --vector",
		Args:  cobra.ExactArgs(1),
		RunE:  runInsert,
	}
	insertCmd.Flags().String("vector", "", "comma-separated vector components (required)")
	insertCmd.Flags().String("doc-type", "", "metadata doc_type")
	insertCmd.Flags().String("asset-tag", "", "metadata asset_tag")
	insertCmd.MarkFlagRequired("vector")
	rootCmd.AddCommand(insertCmd)

	searchCmd := &cobra.Command{
		Use:   "search [dir]",
		Short: "Search for the k nearest neighbors of --vector",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().String("vector", "", "comma-separated query vector components (required)")
	searchCmd.Flags().Int("k", 10, "number of neighbors to return")
	searchCmd.Flags().Int("ef-search", 0, "beam width override; 0 uses the configured default")
	searchCmd.MarkFlagRequired("vector")
	rootCmd.AddCommand(searchCmd)

	statsCmd := &cobra.Command{
		Use:   "stats [dir]",
		Short: "Print database size and shape",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	optimizeCmd := &cobra.Command{
		Use:   "optimize [dir]",
		Short: "Rebuild the HNSW graph and compact the metadata log",
		Args:  cobra.ExactArgs(1),
		RunE:  runOptimize,
	}
	rootCmd.AddCommand(optimizeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parsing vector component %q: %w", p, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	dir := args[0]
	dimension, _ := cmd.Flags().GetUint32("dimension")
	metricName, _ := cmd.Flags().GetString("metric")

	metric, ok := distance.ParseMetric(metricName)
	if !ok {
		return fmt.Errorf("unknown metric %q", metricName)
	}

	cfg := config.DefaultConfig()
	cfg.Dimension = dimension
	cfg.MetricName = metricName
	cfg.Metric = metric

	db, err := vectordb.Create(dir, cfg)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	fmt.Printf("created database at %s (dimension=%d metric=%s)\n", dir, dimension, metricName)
	return nil
}

func runInsert(cmd *cobra.Command, args []string) error {
	dir := args[0]
	vecStr, _ := cmd.Flags().GetString("vector")
	docType, _ := cmd.Flags().GetString("doc-type")
	assetTag, _ := cmd.Flags().GetString("asset-tag")

	v, err := parseVector(vecStr)
	if err != nil {
		return err
	}

	db, err := vectordb.Open(dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	id, err := db.Insert(context.Background(), v, metadata.Record{DocType: docType, AssetTag: assetTag})
	if err != nil {
		return fmt.Errorf("inserting: %w", err)
	}

	fmt.Printf("inserted id=%d\n", id)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	vecStr, _ := cmd.Flags().GetString("vector")
	k, _ := cmd.Flags().GetInt("k")
	efSearch, _ := cmd.Flags().GetInt("ef-search")

	v, err := parseVector(vecStr)
	if err != nil {
		return err
	}

	db, err := vectordb.Open(dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	results, err := db.Search(context.Background(), v, k, nil, efSearch)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func runStats(cmd *cobra.Command, args []string) error {
	dir := args[0]
	db, err := vectordb.Open(dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	fmt.Println(db.Stats().String())
	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	dir := args[0]
	db, err := vectordb.Open(dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Optimize(context.Background()); err != nil {
		return fmt.Errorf("optimizing: %w", err)
	}

	fmt.Println("optimize complete")
	return nil
}
