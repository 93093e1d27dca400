// placekit — place-name localization kit: translates geographic
// administrative names into a target script via the Wikidata knowledge
// graph, disambiguating same-named places through their containment
// hierarchy.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/immich-geodata/placekit/cachestore"
	"github.com/immich-geodata/placekit/config"
	"github.com/immich-geodata/placekit/convert"
	"github.com/immich-geodata/placekit/country"
	"github.com/immich-geodata/placekit/dataset"
	"github.com/immich-geodata/placekit/translator"
	"github.com/immich-geodata/placekit/wikidata"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "placekit",
		Short: "Place-name localization via the Wikidata knowledge graph",
		Long: `placekit — place-name localization kit.

Translates geographic administrative names (Korean, Japanese, Taiwanese)
into a target script by querying Wikidata, disambiguating same-named
places through their administrative containment hierarchy. Results are
cached in a durable JSON document so re-runs only query what is new.

Commands:
  translate   Translate a table of place names for one country
  status      Show cache metadata and per-namespace entry counts
  version     Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default placekit.yaml)")

	root.AddCommand(
		newTranslateCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("placekit version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

func newStatusCmd() *cobra.Command {
	var cachePath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache metadata and entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cachePath == "" {
				cachePath = cfg.CachePath
			}
			store := cachestore.Load(cachePath, "", cfg.TargetLang)
			meta := store.Meta()
			counts := store.Counts()

			logInfo("cache: %s", cachePath)
			logInfo("  version:      %s", meta.Version)
			logInfo("  languages:    %s -> %s", orDash(meta.SourceLang), orDash(meta.TargetLang))
			logInfo("  created:      %s", orDash(meta.CreatedAt))
			logInfo("  translations: %d", counts.Translations)
			logInfo("  search:       %d", counts.Search)
			logInfo("  labels:       %d", counts.Labels)
			logInfo("  hierarchy:    %d", counts.Hierarchy)
			logInfo("  instance_of:  %d", counts.InstanceOf)
			return nil
		},
	}

	cmd.Flags().StringVar(&cachePath, "cache", "", "Cache file path (overrides config)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newTranslateCmd() *cobra.Command {
	var (
		countryCode string
		level       string
		inputPath   string
		outputPath  string
		cachePath   string
		targetLang  string
		dedupe      bool
		noFilter    bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate a table of place names for one country",
		Long: `Translate a TSV table of administrative place names.

The input file must have a header row; the country handler decides which
columns carry the admin1 and admin2 names. Output is one row per dataset
item with the resolved translation, candidate entity id, label source,
and parent-verification flag.

Supported countries: ` + fmt.Sprint(country.Codes()),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cachePath != "" {
				cfg.CachePath = cachePath
			}
			if targetLang != "" {
				cfg.TargetLang = targetLang
			}

			handler, ok := country.Lookup(countryCode)
			if !ok {
				return fmt.Errorf("unsupported country %q (have %v)", countryCode, country.Codes())
			}
			adminLevel, err := dataset.ParseAdminLevel(level)
			if err != nil {
				return err
			}

			rows, err := readRows(inputPath)
			if err != nil {
				return err
			}
			logInfo("read %d rows from %s", len(rows), inputPath)

			builder := dataset.Builder{
				CountryCode: handler.Code(),
				SourceLang:  handler.SourceLang(),
				TargetLang:  cfg.TargetLang,
			}
			var ds *dataset.Dataset
			switch adminLevel {
			case dataset.Admin1:
				ds, err = builder.BuildAdmin1(rows, handler.Admin1Field())
			case dataset.Admin2:
				ds, err = builder.BuildAdmin2(rows, handler.Admin1Field(), handler.Admin2Field(),
					dataset.Admin2Options{Dedupe: dedupe})
			default:
				return fmt.Errorf("level %s is not supported by the translate command", adminLevel)
			}
			if err != nil {
				return err
			}
			stats := ds.Stats()
			logInfo("dataset: %d items, %d distinct parents", stats.Items, stats.UniqueParents)

			logger := buildLogger(verbose)
			defer logger.Sync()

			store := cachestore.Load(cfg.CachePath, handler.SourceLang(), cfg.TargetLang,
				cachestore.WithLogger(logger),
				cachestore.WithFlushThresholds(cfg.Flush.MaxDirty, cfg.Flush.Interval))

			client := wikidata.New(wikidata.Options{
				SourceLang:  handler.SourceLang(),
				Languages:   append([]string{cfg.TargetLang}, cfg.FallbackLangs...),
				WikiSite:    cfg.WikiSite,
				APIURL:      cfg.API.EntityURL,
				QueryURL:    cfg.API.QueryURL,
				WikiURL:     cfg.API.WikiURL,
				UserAgent:   cfg.API.UserAgent,
				QueryDelay:  cfg.API.QueryDelay,
				EntityDelay: cfg.API.EntityDelay,
				WikiDelay:   cfg.API.WikiDelay,
				Timeout:     cfg.API.Timeout,
				MaxRetries:  cfg.API.MaxRetries,
				Logger:      logger,
			})

			var converter convert.Converter
			if cfg.Conversion != "" {
				converter, err = convert.NewOpenCC(cfg.Conversion)
				if err != nil {
					logWarning("script conversion unavailable: %v", err)
					converter = nil
				}
			}

			policy := translator.Policy{
				TargetLang:     cfg.TargetLang,
				FallbackLangs:  cfg.FallbackLangs,
				ConvertLangs:   cfg.ConvertLangSet(),
				Converter:      converter,
				WikiSite:       cfg.WikiSite,
				NormalizeTitle: client.ConvertTitle,
				Logger:         logger,
			}

			opts := translator.Options{
				ExpectedAncestors: expectedAncestors(ds, handler),
				OnProgress: func(done, total int) {
					logInfo("  translated %d/%d", done, total)
				},
			}
			if !noFilter {
				opts.CandidateFilter = handler.CandidateFilter()
			}

			// Setup signal handling for graceful cancellation
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				logWarning("Interrupted, saving progress...")
				cancel()
			}()

			tr := translator.New(client, store, policy, logger)
			results, runErr := tr.BatchTranslate(ctx, ds, opts)
			if runErr != nil {
				logWarning("stopped early, %d/%d items resolved; progress saved", len(results), ds.Len())
			}

			if outputPath != "" {
				if err := writeResults(outputPath, ds, results); err != nil {
					return err
				}
				logSuccess("wrote %s", outputPath)
			}

			verified := 0
			for _, r := range results {
				if r.ParentVerified {
					verified++
				}
			}
			logSuccess("resolved %d items (%d parent-verified), cache at %s",
				len(results), verified, cfg.CachePath)
			return runErr
		},
	}

	cmd.Flags().StringVar(&countryCode, "country", "", "Country code (required)")
	cmd.Flags().StringVar(&level, "level", "admin2", "Administrative level: admin1 or admin2")
	cmd.Flags().StringVar(&inputPath, "input", "", "Input TSV file with a header row (required)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Output TSV file (omit to only warm the cache)")
	cmd.Flags().StringVar(&cachePath, "cache", "", "Cache file path (overrides config)")
	cmd.Flags().StringVar(&targetLang, "target", "", "Target language (overrides config)")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "Collapse admin2 rows sharing (parent, name)")
	cmd.Flags().BoolVar(&noFilter, "no-filter", false, "Disable the candidate filter")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose engine logging")
	cmd.MarkFlagRequired("country")
	cmd.MarkFlagRequired("input")

	return cmd
}

func buildLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// expectedAncestors maps item ids to the entity id of their expected
// administrative parent, for the parent names the country table knows.
func expectedAncestors(ds *dataset.Dataset, handler country.Handler) map[string]string {
	parents := handler.ExpectedParents()
	if len(parents) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, it := range ds.Items() {
		if it.Level == dataset.Admin1 {
			continue
		}
		if qid, ok := parents[it.Parent()]; ok {
			out[it.ID] = qid
		}
	}
	return out
}

// readRows reads a TSV file with a header row into field-addressable rows.
func readRows(path string) ([]dataset.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%s: missing header row", path)
	}
	header := records[0]

	rows := make([]dataset.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(dataset.MapRow, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// writeResults joins translations back onto the dataset items, in dataset
// order, one row per item. Items not reached before cancellation are
// skipped.
func writeResults(path string, ds *dataset.Dataset, results map[string]cachestore.Translation) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'

	if err := w.Write([]string{"parent", "name", "translated", "candidate_id", "source", "used_lang", "parent_verified"}); err != nil {
		return err
	}
	for _, it := range ds.Items() {
		r, ok := results[it.ID]
		if !ok {
			continue
		}
		record := []string{
			it.Parent(),
			it.OriginalName,
			r.Translated,
			r.CandidateID,
			r.Source,
			r.UsedLang,
			fmt.Sprintf("%t", r.ParentVerified),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
