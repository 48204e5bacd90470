package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	kelp "github.com/kelpdb/kelp"
	"github.com/kelpdb/kelp/internal/cliconfig"
	"github.com/kelpdb/kelp/pkg/collection"
	"github.com/kelpdb/kelp/pkg/filter"
	"github.com/kelpdb/kelp/pkg/index"
	"github.com/kelpdb/kelp/pkg/metric"
	"github.com/kelpdb/kelp/pkg/quantization"
	"github.com/kelpdb/kelp/pkg/vector"
)

var (
	storeDir   string
	configPath string
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "kelp",
	Short: "CLI for the kelp embeddable vector database",
	Long:  `A command-line interface for creating collections, inserting vectors, and searching them.`,
}

func openStore() (*kelp.Store, error) {
	return kelp.OpenStore(storeDir)
}

var createCollectionCmd = &cobra.Command{
	Use:   "create-collection <name>",
	Short: "Create a new collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		dim, _ := cmd.Flags().GetInt("dimension")
		metricStr, _ := cmd.Flags().GetString("metric")
		codecStr, _ := cmd.Flags().GetString("codec")
		shards, _ := cmd.Flags().GetInt("shards")

		if dim <= 0 {
			return fmt.Errorf("--dimension must be positive")
		}
		m, ok := metric.ParseKind(metricStr)
		if !ok {
			return fmt.Errorf("unknown metric %q", metricStr)
		}
		codecKind, err := parseCodecKind(codecStr)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}

		cfg := collection.Config{
			Dimension: dim,
			Metric:    m,
			Codec:     quantization.Params{Kind: codecKind, Dimension: dim},
			HNSW:      index.Params{M: 16, EfConstruction: 200, EfSearch: 64},
		}

		if shards > 1 {
			err = store.CreateShardedCollection(name, shards, cfg)
		} else {
			err = store.CreateCollection(name, cfg)
		}
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		fmt.Printf("collection %q created (dimension=%d metric=%s codec=%s)\n", name, dim, m, codecKind)
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <collection> <id>",
	Short: "Insert a new vector",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		collName, id := args[0], args[1]
		vecStr, _ := cmd.Flags().GetString("vector")
		payloadStr, _ := cmd.Flags().GetString("payload")
		if vecStr == "" {
			return fmt.Errorf("--vector is required")
		}
		vec, err := parseVector(vecStr)
		if err != nil {
			return err
		}
		var payload map[string]any
		if payloadStr != "" {
			if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
				return fmt.Errorf("invalid --payload JSON: %w", err)
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		h, err := store.GetCollection(collName)
		if err != nil {
			return err
		}
		rec := vector.NewDenseWithPayload(id, vec, payload)
		results, err := h.Insert([]vector.Record{rec})
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if results[0].Err != nil {
			return fmt.Errorf("insert %s: %w", id, results[0].Err)
		}
		fmt.Printf("inserted %q into %q\n", id, collName)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <collection>",
	Short: "Search for the nearest neighbors of a query vector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collName := args[0]
		vecStr, _ := cmd.Flags().GetString("vector")
		k, _ := cmd.Flags().GetInt("top-k")
		ef, _ := cmd.Flags().GetInt("ef")
		eqFilter, _ := cmd.Flags().GetStringSlice("eq")
		if vecStr == "" {
			return fmt.Errorf("--vector is required")
		}
		vec, err := parseVector(vecStr)
		if err != nil {
			return err
		}

		var expr *filter.Expr
		if len(eqFilter) > 0 {
			children := make([]*filter.Expr, 0, len(eqFilter))
			for _, pair := range eqFilter {
				kv := strings.SplitN(pair, "=", 2)
				if len(kv) != 2 {
					return fmt.Errorf("malformed --eq %q, want field=value", pair)
				}
				children = append(children, filter.Eq(kv[0], kv[1]))
			}
			if len(children) == 1 {
				expr = children[0]
			} else {
				expr = filter.And(children...)
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		h, err := store.GetCollection(collName)
		if err != nil {
			return err
		}

		results, err := h.Search(context.Background(), vec, k, kelp.SearchOptions{Ef: ef, Filter: expr})
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if jsonOut {
			data, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. %s (score %.4f)\n", i+1, r.ID, r.Score)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <collection>",
	Short: "Report collection shape and memory footprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		h, err := store.GetCollection(args[0])
		if err != nil {
			return err
		}
		stats := h.Stats()
		if jsonOut {
			data, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		for k, v := range stats {
			if k == "estimated_bytes" {
				if n, ok := v.(int); ok {
					fmt.Printf("  %s: %s\n", k, humanize.Bytes(uint64(n)))
					continue
				}
			}
			fmt.Printf("  %s: %v\n", k, v)
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <collection>",
	Short: "Discard tombstones and rebuild the ANN graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		h, err := store.GetCollection(args[0])
		if err != nil {
			return err
		}
		if err := h.Rebuild(); err != nil {
			return fmt.Errorf("rebuild: %w", err)
		}
		fmt.Printf("rebuilt %q\n", args[0])
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <collection>",
	Short: "Write the collection's current state to disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		h, err := store.GetCollection(args[0])
		if err != nil {
			return err
		}
		if err := h.Snapshot(); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		fmt.Printf("snapshotted %q to %s\n", args[0], storeDir)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		names := store.ListCollections()
		if jsonOut {
			data, _ := json.MarshalIndent(names, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <collection>",
	Short: "Delete a collection and its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.DropCollection(args[0]); err != nil {
			return fmt.Errorf("drop: %w", err)
		}
		fmt.Printf("dropped %q\n", args[0])
		return nil
	},
}

var similarityCmd = &cobra.Command{
	Use:   "similarity",
	Short: "Compute the similarity score between two vectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		v1Str, _ := cmd.Flags().GetString("vector1")
		v2Str, _ := cmd.Flags().GetString("vector2")
		method, _ := cmd.Flags().GetString("method")

		v1, err := parseVector(v1Str)
		if err != nil {
			return err
		}
		v2, err := parseVector(v2Str)
		if err != nil {
			return err
		}
		if len(v1) != len(v2) {
			return fmt.Errorf("vectors must have the same dimension")
		}

		m, ok := metric.ParseKind(method)
		if !ok {
			return fmt.Errorf("unknown similarity method %q", method)
		}
		if m.Normalizes() {
			v1, v2 = metric.Normalize(v1), metric.Normalize(v2)
		}
		dist := m.Func()(v1, v2)
		score := m.Score(dist)
		fmt.Printf("similarity (%s): %.6f\n", method, score)
		return nil
	},
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(v))
	}
	return vec, nil
}

func parseCodecKind(s string) (quantization.Kind, error) {
	switch s {
	case "", "none":
		return quantization.KindNone, nil
	case "scalar-4":
		return quantization.KindScalar4, nil
	case "scalar-8":
		return quantization.KindScalar8, nil
	case "product":
		return quantization.KindProduct, nil
	default:
		return "", fmt.Errorf("unknown codec %q", s)
	}
}

func init() {
	cfg, err := cliconfig.Load(cliconfig.DefaultPath())
	if err != nil {
		cfg = cliconfig.Default()
	}

	rootCmd.PersistentFlags().StringVar(&storeDir, "store", cfg.StoreDir, "Store directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", cliconfig.DefaultPath(), "Config file path")
	// Default json output to off for an interactive terminal, on otherwise,
	// so piping kelp's output into jq just works without a flag.
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", !isatty.IsTerminal(os.Stdout.Fd()), "Output as JSON")

	createCollectionCmd.Flags().Int("dimension", 0, "Vector dimension")
	createCollectionCmd.Flags().String("metric", "cosine", "Distance metric (cosine/euclidean/dot-product)")
	createCollectionCmd.Flags().String("codec", "none", "Storage codec (none/scalar-4/scalar-8/product)")
	createCollectionCmd.Flags().Int("shards", 1, "Shard count (1 disables sharding)")
	createCollectionCmd.MarkFlagRequired("dimension")

	insertCmd.Flags().String("vector", "", "Vector values (comma-separated)")
	insertCmd.Flags().String("payload", "", "Payload as a JSON object")
	insertCmd.MarkFlagRequired("vector")

	searchCmd.Flags().String("vector", "", "Query vector (comma-separated)")
	searchCmd.Flags().Int("top-k", 10, "Number of results")
	searchCmd.Flags().Int("ef", 64, "Search beam width")
	searchCmd.Flags().StringSlice("eq", nil, "Payload equality filters (field=value), ANDed together")
	searchCmd.MarkFlagRequired("vector")

	similarityCmd.Flags().String("vector1", "", "First vector (comma-separated)")
	similarityCmd.Flags().String("vector2", "", "Second vector (comma-separated)")
	similarityCmd.Flags().String("method", "cosine", "Similarity method (cosine/euclidean/dot-product)")
	similarityCmd.MarkFlagRequired("vector1")
	similarityCmd.MarkFlagRequired("vector2")

	rootCmd.AddCommand(
		createCollectionCmd,
		insertCmd,
		searchCmd,
		statsCmd,
		rebuildCmd,
		snapshotCmd,
		listCmd,
		dropCmd,
		similarityCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
