// Package main provides the brainy CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soulcraft-research/brainy/pkg/brainy"
	"github.com/soulcraft-research/brainy/pkg/config"
	"github.com/soulcraft-research/brainy/pkg/convert"
	"github.com/soulcraft-research/brainy/pkg/store"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "brainy",
		Short: "brainy - hybrid vector and graph database",
		Long: `brainy is a hybrid vector+graph database written in Go: an HNSW
index for approximate nearest-neighbor search over "nouns", a directed
typed-edge graph ("verbs") alongside it, pluggable storage adapters
(memory, filesystem, S3), and multi-instance coordination for
horizontal scale-out.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("brainy v%s\n", version)
		},
	})

	addCmd := &cobra.Command{
		Use:   "add [vector-json]",
		Short: "Add a noun",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	addCmd.Flags().String("data-dir", "./data/brainy", "Data directory")
	addCmd.Flags().String("id", "", "Noun id (generated if empty)")
	addCmd.Flags().String("label", "", "Noun label")
	rootCmd.AddCommand(addCmd)

	searchCmd := &cobra.Command{
		Use:   "search [vector-json]",
		Short: "Search for the k nearest nouns",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().String("data-dir", "./data/brainy", "Data directory")
	searchCmd.Flags().Int("k", 10, "Number of results")
	rootCmd.AddCommand(searchCmd)

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Get a noun by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	getCmd.Flags().String("data-dir", "./data/brainy", "Data directory")
	rootCmd.AddCommand(getCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		RunE:  runStats,
	}
	statsCmd.Flags().String("data-dir", "./data/brainy", "Data directory")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openFromFlags(cmd *cobra.Command) (*brainy.Database, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg := config.LoadFromEnv()
	cfg.Storage.Backend = config.BackendFilesystem
	cfg.Storage.Root = dataDir
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return brainy.Open(context.Background(), cfg)
}

func parseVector(raw string) ([]float32, error) {
	var decoded []interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parsing vector %q: %w", raw, err)
	}
	return convert.ToFloat32Slice(decoded), nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	db, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	vec, err := parseVector(args[0])
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("id")
	label, _ := cmd.Flags().GetString("label")

	nounID, err := db.Add(context.Background(), vec, &store.NounMetadata{Label: label}, id, brainy.AddOptions{})
	if err != nil {
		return fmt.Errorf("adding noun: %w", err)
	}
	fmt.Println(nounID)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	db, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	vec, err := parseVector(args[0])
	if err != nil {
		return err
	}
	k, _ := cmd.Flags().GetInt("k")

	hits, err := db.Search(context.Background(), vec, k, brainy.SearchOptions{})
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	for _, h := range hits {
		label := ""
		if h.Metadata != nil {
			label = h.Metadata.Label
		}
		fmt.Printf("%s\t%s\t%s\n", h.ID, strconv.FormatFloat(h.Distance, 'f', 6, 64), label)
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	db, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	noun, md, err := db.Get(context.Background(), store.NounID(args[0]))
	if err != nil {
		return fmt.Errorf("getting noun: %w", err)
	}

	vecParts := make([]string, len(noun.Vector))
	for i, f := range noun.Vector {
		vecParts[i] = strconv.FormatFloat(float64(f), 'f', 6, 32)
	}
	fmt.Printf("id:     %s\n", noun.ID)
	fmt.Printf("vector: [%s]\n", strings.Join(vecParts, ", "))
	fmt.Printf("label:  %s\n", md.Label)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openFromFlags(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.GetStatistics(context.Background())
	if err != nil {
		return fmt.Errorf("reading statistics: %w", err)
	}
	for _, key := range sortedKeys(stats.Counters) {
		fmt.Printf("%s\t%d\n", key, stats.Counters[key])
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
