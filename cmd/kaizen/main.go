// Command kaizen is the CLI for the self-improvement core.
//
// Usage:
//
//	kaizen evaluate --transcript session.jsonl     # score one session log
//	kaizen cycle --orchestrator dev --transcripts logs/
//	kaizen search --query "flaky integration test"
//	kaizen version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nakamura-labs/kaizen/archive"
	"github.com/nakamura-labs/kaizen/config"
	"github.com/nakamura-labs/kaizen/embedding"
	"github.com/nakamura-labs/kaizen/episode"
	"github.com/nakamura-labs/kaizen/evaluation"
	"github.com/nakamura-labs/kaizen/improvement"
	"github.com/nakamura-labs/kaizen/transcript"
	"github.com/nakamura-labs/kaizen/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "evaluate":
		runEvaluate(os.Args[2:])
	case "cycle":
		runCycle(os.Args[2:])
	case "search":
		runSearch(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runEvaluate scores one session transcript and prints the evaluation,
// optionally with a derived reflection, as JSON.
func runEvaluate(args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	transcriptPath := fs.String("transcript", "", "Path to a session JSONL log")
	sessionID := fs.String("session", "", "Session ID (defaults to the file name)")
	reflect := fs.Bool("reflect", false, "Also generate a reflection")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if *transcriptPath == "" {
		fail("evaluate requires --transcript")
	}
	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	id := *sessionID
	if id == "" {
		id = filepath.Base(*transcriptPath)
	}

	f, err := os.Open(*transcriptPath)
	if err != nil {
		fail("opening transcript: %v", err)
	}
	defer f.Close()

	chunks, err := transcript.NewLoader(logger).LoadJSONL(f)
	if err != nil {
		fail("loading transcript: %v", err)
	}

	eval := evaluation.NewEvaluator(logger).Evaluate(id, chunks, evaluation.Timing{})

	out := struct {
		Evaluation *types.TranscriptEvaluation `json:"evaluation"`
		Reflection *types.Reflection           `json:"reflection,omitempty"`
	}{Evaluation: eval}
	if *reflect {
		out.Reflection = evaluation.NewReflectionGenerator(logger).Generate(eval, nil)
	}
	printJSON(out)
}

// runCycle evaluates a directory of session logs and runs one improvement
// cycle for the named orchestrator against the configured archive.
func runCycle(args []string) {
	fs := flag.NewFlagSet("cycle", flag.ExitOnError)
	orchestratorID := fs.String("orchestrator", "default", "Orchestrator ID")
	transcriptsDir := fs.String("transcripts", "", "Directory of session JSONL logs")
	projectPath := fs.String("project", "", "Project path for instruction improvements")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if *transcriptsDir == "" {
		fail("cycle requires --transcripts")
	}
	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	arc, err := openArchive(cfg, logger)
	if err != nil {
		fail("opening archive: %v", err)
	}
	if _, err := arc.EnsureOrchestrator(ctx, *orchestratorID, types.DefaultOrchestratorConfig()); err != nil {
		fail("ensuring orchestrator: %v", err)
	}

	loader := transcript.NewLoader(logger)
	evaluator := evaluation.NewEvaluator(logger)
	generator := evaluation.NewReflectionGenerator(logger)

	paths, err := filepath.Glob(filepath.Join(*transcriptsDir, "*.jsonl"))
	if err != nil {
		fail("listing transcripts: %v", err)
	}
	if len(paths) == 0 {
		fail("no .jsonl files under %s", *transcriptsDir)
	}

	input := improvement.CycleInput{ProjectPath: *projectPath}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			logger.Warn("skipping transcript", zap.String("path", path), zap.Error(err))
			continue
		}
		chunks, err := loader.LoadJSONL(f)
		f.Close()
		if err != nil {
			logger.Warn("skipping transcript", zap.String("path", path), zap.Error(err))
			continue
		}
		eval := evaluator.Evaluate(filepath.Base(path), chunks, evaluation.Timing{})
		input.RecentEvaluations = append(input.RecentEvaluations, eval)
		input.RecentReflections = append(input.RecentReflections, generator.Generate(eval, nil))
	}

	svc := improvement.NewService(arc, improvement.WithLogger(logger))
	result, err := svc.RunImprovementCycle(ctx, *orchestratorID, input)
	if err != nil {
		fail("improvement cycle: %v", err)
	}
	printJSON(result)
}

// runSearch queries the configured episode store for similar past episodes.
func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("query", "", "Similarity query text")
	limit := fs.Int("limit", 5, "Maximum results")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if *query == "" {
		fail("search requires --query")
	}
	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(cfg, logger)
	if err != nil {
		fail("opening episode store: %v", err)
	}
	results, err := store.Search(ctx, *query, episode.SearchOptions{
		Limit:        *limit,
		PreferRecent: true,
	})
	if err != nil {
		fail("searching episodes: %v", err)
	}
	printJSON(results)
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fail("loading config: %v", err)
	}
	return cfg
}

func openArchive(cfg *config.Config, logger *zap.Logger) (archive.Archive, error) {
	switch cfg.Archive.Backend {
	case "sqlite":
		return archive.NewSQLArchive(cfg.Archive.Path, logger)
	default:
		return archive.NewMemoryArchive(logger), nil
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (*episode.Store, error) {
	provider := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	var table episode.VectorTable
	switch cfg.Store.Backend {
	case "redis":
		table = episode.NewRedisTable(episode.RedisConfig{
			Addr:      cfg.Store.RedisAddr,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.KeyPrefix,
		}, logger)
	default:
		table = episode.NewMemoryTable(logger)
	}
	return episode.NewStore(table, provider, logger), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encoding output: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printVersion() {
	fmt.Printf("kaizen %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`kaizen - self-improvement core for coding-agent orchestrators

Usage:
  kaizen <command> [options]

Commands:
  evaluate  Score one session transcript
  cycle     Run one improvement cycle over a directory of transcripts
  search    Find similar past episodes
  version   Show version information
  help      Show this help message

Options for 'evaluate':
  --transcript <path>   Session JSONL log (required)
  --session <id>        Session ID, defaults to the file name
  --reflect             Also generate a reflection
  --config <path>       Configuration file (YAML)

Options for 'cycle':
  --orchestrator <id>   Orchestrator ID (default "default")
  --transcripts <dir>   Directory of session JSONL logs (required)
  --project <path>      Project path for instruction improvements
  --config <path>       Configuration file (YAML)

Options for 'search':
  --query <text>        Similarity query (required)
  --limit <n>           Maximum results (default 5)
  --config <path>       Configuration file (YAML)

Examples:
  kaizen evaluate --transcript ~/.sessions/abc.jsonl --reflect
  kaizen cycle --orchestrator dev --transcripts ./logs --project .
  kaizen search --query "migration deadlock" --limit 3`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
