// Package main is the trialscope CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"flag"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/cli"
	"github.com/trialscope/trialscope/internal/config"
	"github.com/trialscope/trialscope/internal/corpus"
	"github.com/trialscope/trialscope/internal/eligibility"
	"github.com/trialscope/trialscope/internal/embedding"
	"github.com/trialscope/trialscope/internal/keyword"
	"github.com/trialscope/trialscope/internal/match"
	"github.com/trialscope/trialscope/internal/metrics"
	"github.com/trialscope/trialscope/internal/models"
	"github.com/trialscope/trialscope/internal/patient"
	"github.com/trialscope/trialscope/internal/report"
	"github.com/trialscope/trialscope/internal/server"
	"github.com/trialscope/trialscope/internal/trialstore"
	"github.com/trialscope/trialscope/internal/vector"
	"github.com/trialscope/trialscope/internal/watcher"
	"github.com/trialscope/trialscope/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/trialscope/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so development runs pick up the
// project config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "match":
		runMatch()
	case "ingest":
		runIngest()
	case "corpus":
		runCorpus()
	case "trial":
		runTrial()
	case "search":
		runSearch()
	case "evaluate":
		runEvaluate()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("trialscope version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// Components bundles the initialized pipeline pieces.
type Components struct {
	Store       *trialstore.Store
	Embedder    embedding.Embedder
	VectorIndex *vector.FlatIndex
	Keywords    *keyword.Index
	Engine      *match.Engine
	Logger      *zap.Logger
}

// Close releases all resources.
func (c *Components) Close() {
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// initializeComponents opens the store and indices per config. With
// createStore set the database is created when missing (ingest path).
func initializeComponents(cfg *config.Config, logger *zap.Logger, createStore bool) (*Components, error) {
	var (
		store *trialstore.Store
		err   error
	)
	if createStore {
		store, err = trialstore.Create(cfg.Storage.DatabasePath)
	} else {
		store, err = trialstore.Open(cfg.Storage.DatabasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trial store: %w", err)
	}

	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		// Local model unavailable; the deterministic embedder keeps the
		// pipeline runnable for development.
		logger.Warn("embedder init failed, using mock", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}

	vectorIndex, err := vector.OpenFlatIndex(cfg.Storage.VectorIndexPath, cfg.Embedding.Dimensions)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	var keywords *keyword.Index
	if cfg.Storage.BleveIndexPath != "" {
		keywords, err = keyword.Open(cfg.Storage.BleveIndexPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to open keyword index: %w", err)
		}
	}

	ranker := match.NewRanker(vectorIndex, embedder, logger)
	engine := match.NewEngine(store, ranker, cfg.Match, logger)
	return &Components{
		Store:       store,
		Embedder:    embedder,
		VectorIndex: vectorIndex,
		Keywords:    keywords,
		Engine:      engine,
		Logger:      logger,
	}, nil
}

func newLogger(cfg *config.Config, debug bool) *zap.Logger {
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func mustLoadConfig(path string) (*config.Config, string) {
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolved := mustLoadConfig(*configPath)
	logger := newLogger(cfg, *debug)
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolved))

	metrics.RegisterMatchMetrics()

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Engine,
		components.Store,
		components.Keywords,
		components.VectorIndex,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown failed", zap.Error(err))
	}
}

func runMatch() {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	topK := fs.Int("top-k", 0, "ranked results to return (0 = config default)")
	limit := fs.Int("limit", 0, "structured filter candidate cap (0 = config default)")
	output := fs.String("output", "text", "output format: text, compact, or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: trialscope match [flags] <patient.json>")
		os.Exit(1)
	}

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	p, err := patient.Load(fs.Arg(0))
	if err != nil {
		logger.Fatal("Failed to load patient record", zap.Error(err))
	}
	if p == nil {
		logger.Fatal("Patient file is empty", zap.String("path", fs.Arg(0)))
	}
	result, err := components.Engine.Match(context.Background(), p, models.MatchRequest{
		CandidateLimit: *limit,
		TopK:           *topK,
	})
	if err != nil {
		logger.Fatal("Match failed", zap.Error(err))
	}
	if err := cli.WriteMatchResult(os.Stdout, result, cli.OutputFormat(*output)); err != nil {
		logger.Fatal("Failed to write result", zap.Error(err))
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: trialscope ingest [flags] <trials.json>")
		os.Exit(1)
	}

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, *debug)
	defer logger.Sync()

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		logger.Fatal("Failed to read trials file", zap.Error(err))
	}
	var trials []*models.Trial
	if err := json.Unmarshal(data, &trials); err != nil {
		logger.Fatal("Failed to parse trials file", zap.Error(err))
	}

	store, err := trialstore.Create(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to create trial store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	for _, t := range trials {
		if err := store.InsertTrial(ctx, t); err != nil {
			logger.Fatal("Failed to insert trial", zap.String("trial_id", t.TrialID), zap.Error(err))
		}
	}
	logger.Info("ingest complete", zap.Int("trials", len(trials)))
	fmt.Printf("Ingested %d trials into %s\n", len(trials), cfg.Storage.DatabasePath)
}

func runCorpus() {
	fs := flag.NewFlagSet("corpus", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	builder := corpus.NewBuilder(
		components.Store,
		components.Embedder,
		components.VectorIndex,
		components.Keywords,
		cfg.Match.BatchSize,
		logger,
	)
	n, err := builder.Build(context.Background())
	if err != nil {
		logger.Fatal("Corpus build failed", zap.Error(err))
	}
	if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Fatal("Failed to save vector index", zap.Error(err))
	}
	fmt.Printf("Indexed %d trials\n", n)
}

func runTrial() {
	fs := flag.NewFlagSet("trial", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: trialscope trial [flags] <trial-id>")
		os.Exit(1)
	}

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, false)
	defer logger.Sync()

	store, err := trialstore.Open(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open trial store", zap.Error(err))
	}
	defer store.Close()

	trial, err := store.GetTrial(context.Background(), fs.Arg(0))
	if err != nil {
		logger.Fatal("Trial lookup failed", zap.Error(err))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(trial)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 10, "number of results")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: trialscope search [flags] <query>")
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, false)
	defer logger.Sync()

	keywords, err := keyword.Open(cfg.Storage.BleveIndexPath)
	if err != nil {
		logger.Fatal("Failed to open keyword index", zap.Error(err))
	}
	defer keywords.Close()

	results, err := keywords.Search(context.Background(), query, *limit, *fuzzy)
	if err != nil {
		logger.Fatal("Search failed", zap.Error(err))
	}
	for i, r := range results {
		fmt.Printf("%2d. %s  %.4f\n", i+1, r.ID, r.Score)
	}
	if len(results) == 0 {
		fmt.Println("No matching trials.")
	}
}

func runEvaluate() {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputDir := fs.String("output-dir", ".", "directory for JSON and Excel artifacts")
	topK := fs.Int("top-k", 0, "ranked results carried into evaluation (0 = config default)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: trialscope evaluate [flags] <patient.json>")
		os.Exit(1)
	}

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, *debug)
	defer logger.Sync()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Println("OPENAI_API_KEY is required for eligibility evaluation")
		os.Exit(1)
	}

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	p, err := patient.Load(fs.Arg(0))
	if err != nil {
		logger.Fatal("Failed to load patient record", zap.Error(err))
	}
	if p == nil {
		logger.Fatal("Patient file is empty", zap.String("path", fs.Arg(0)))
	}
	ctx := context.Background()
	matchResult, err := components.Engine.Match(ctx, p, models.MatchRequest{TopK: *topK})
	if err != nil {
		logger.Fatal("Match failed", zap.Error(err))
	}

	evaluator := eligibility.NewEvaluator(openai.NewClient(apiKey), components.Store, cfg.Eligibility, logger)
	evaluation, err := evaluator.Evaluate(ctx, p, matchResult)
	if err != nil {
		logger.Fatal("Evaluation failed", zap.Error(err))
	}

	jsonPath, err := report.WriteJSON(evaluation, *outputDir)
	if err != nil {
		logger.Fatal("Failed to write JSON report", zap.Error(err))
	}
	excelPath, err := report.WriteExcel(evaluation, *outputDir)
	if err != nil {
		logger.Fatal("Failed to write Excel report", zap.Error(err))
	}
	cli.WriteEligibilitySummary(os.Stdout, evaluation)
	fmt.Printf("\nReports written:\n  %s\n  %s\n", jsonPath, excelPath)
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, *debug)
	defer logger.Sync()

	if cfg.Watch.InboxDir == "" {
		fmt.Println("watch.inbox_dir must be configured")
		os.Exit(1)
	}
	outputDir := cfg.Watch.OutputDir
	if outputDir == "" {
		outputDir = cfg.Watch.InboxDir
	}

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	onPatient := func(path string) {
		p, err := patient.Load(path)
		if err != nil {
			logger.Warn("failed to load patient file", zap.String("path", path), zap.Error(err))
			return
		}
		if p == nil {
			return
		}
		result, err := components.Engine.Match(context.Background(), p, models.MatchRequest{})
		if err != nil {
			logger.Warn("match failed", zap.String("path", path), zap.Error(err))
			return
		}
		out := filepath.Join(outputDir, fmt.Sprintf("matches_%s.json", p.PatientID))
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			logger.Warn("failed to marshal result", zap.Error(err))
			return
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			logger.Warn("failed to write result", zap.String("path", out), zap.Error(err))
			return
		}
		logger.Info("patient matched",
			zap.String("patient_id", p.PatientID),
			zap.Int("matched", len(result.MatchedTrials)),
			zap.String("output", out))
	}

	watchOpts := []watcher.Option{}
	if cfg.Debug || *debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	w := watcher.New(cfg.Watch.InboxDir, onPatient, watchOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	logger.Info("watching patient inbox", zap.String("inbox", cfg.Watch.InboxDir))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	w.Stop()
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, _ := mustLoadConfig(*configPath)
	logger := newLogger(cfg, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	trials, err := components.Store.Count(context.Background())
	if err != nil {
		logger.Fatal("Failed to count trials", zap.Error(err))
	}
	status := map[string]interface{}{
		"trials":            trials,
		"vector_index_size": components.VectorIndex.Size(),
		"database_path":     cfg.Storage.DatabasePath,
		"vector_index_path": cfg.Storage.VectorIndexPath,
	}
	if components.Keywords != nil {
		if n, err := components.Keywords.DocCount(); err == nil {
			status["keyword_index_size"] = n
		}
	}
	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
		return
	}
	fmt.Printf("Trials:             %d\n", trials)
	fmt.Printf("Vector index size:  %d\n", components.VectorIndex.Size())
	if v, ok := status["keyword_index_size"]; ok {
		fmt.Printf("Keyword index size: %v\n", v)
	}
	fmt.Printf("Database:           %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("Vector index:       %s\n", cfg.Storage.VectorIndexPath)
}

func printUsage() {
	fmt.Println(`trialscope - Clinical trial patient matching

Usage:
  trialscope server [flags]              Start the HTTP API server
  trialscope match [flags] <patient>     Match a patient record against the trial corpus
  trialscope ingest [flags] <trials>     Load a trials JSON file into the store
  trialscope corpus [flags]              Build the vector and keyword indices from the store
  trialscope trial [flags] <trial-id>    Print one trial record
  trialscope search [flags] <query>      Full-text search over trial descriptions
  trialscope evaluate [flags] <patient>  Match, evaluate eligibility with an LLM, and write reports
  trialscope watch [flags]               Watch the patient inbox and match new records
  trialscope status [flags]              Show store and index status
  trialscope version                     Show version
  trialscope help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/trialscope/config.yaml;
                     a config.yaml in the current directory takes precedence)
  --debug            Enable debug logging

Match Flags:
  --top-k int        Ranked results to return (0 = config default)
  --limit int        Structured filter candidate cap (0 = config default)
  --output string    Output format: text, compact, or json (default: text)

Evaluate Flags:
  --top-k int        Ranked results carried into evaluation (0 = config default)
  --output-dir string  Directory for JSON and Excel artifacts (default: .)

Search Flags:
  --limit int        Number of results (default: 10)
  --fuzzy            Enable fuzzy matching for typo tolerance

Examples:
  trialscope ingest trials.json
  trialscope corpus
  trialscope match --top-k 10 patient.json
  trialscope match --output json patient.json > matches.json
  trialscope search "metformin diabetes"
  OPENAI_API_KEY=... trialscope evaluate --output-dir reports patient.json
  trialscope server
  trialscope watch`)
}
