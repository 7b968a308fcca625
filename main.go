package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/analysis"
	"github.com/tetraminz/chatlog_audit/internal/app"
	"github.com/tetraminz/chatlog_audit/internal/compute"
	"github.com/tetraminz/chatlog_audit/internal/config"
	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/logging"
	"github.com/tetraminz/chatlog_audit/internal/store"
)

const defaultOutPath = "out/result.json"

var (
	configPath string
	envFile    string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatlog_audit",
	Short: "Score chat-assistant logs for hallucination, over-reliance and purpose",
	Long: `chatlog_audit analyzes exported chat-assistant conversations, scores every
turn with an LLM classifier and ranks the result against the stored population.

Examples:
  chatlog_audit setup
  CHATLOG_ORACLE_API_KEY=sk-... chatlog_audit analyze --out out/result.json exports/
  chatlog_audit report out/result.json
  chatlog_audit upload out/result.json
  chatlog_audit compare out/result.json`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadEnvFile,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [files|dirs...]",
	Short: "Analyze exports and write the result document",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <result.json>",
	Short: "Store the privacy-reduced record of a result document",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var compareCmd = &cobra.Command{
	Use:   "compare <result.json>",
	Short: "Rank a result document against the stored population",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompare,
}

var reportCmd = &cobra.Command{
	Use:   "report <result.json>",
	Short: "Print a markdown summary of a result document",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create (or recreate) the SQLite schema",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	analyzeCmd.Flags().String("out", defaultOutPath, "output path of the result document")
	analyzeCmd.Flags().Bool("upload", false, "store the privacy-reduced record after analysis")
	reportCmd.Flags().String("session", "", "only summarize the session with this file name")
	reportCmd.Flags().Bool("events", false, "append oracle audit counters from the SQLite store")
	setupCmd.Flags().String("db", "", "SQLite path (default: store.sqlite_path)")

	rootCmd.AddCommand(analyzeCmd, uploadCmd, compareCmd, reportCmd, setupCmd)
}

func loadEnvFile(*cobra.Command, []string) error {
	if strings.TrimSpace(envFile) == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	outPath, _ := cmd.Flags().GetString("out")
	upload, _ := cmd.Flags().GetBool("upload")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	loaded, err := dataset.LoadPaths(args)
	if err != nil {
		return err
	}
	for _, rejected := range loaded.Rejected {
		a.Logger.Warn("source_rejected",
			zap.String("source", rejected.Name),
			zap.String("reason", analysis.RejectReason(rejected)),
			zap.Error(rejected.Err),
		)
	}
	if err := analysis.CheckSufficiency(loaded.Sources, a.Config.Ingest.MinSources); err != nil {
		return err
	}

	raw, preAnalyzed := loaded.Counts()
	fmt.Printf("analyze_start raw=%d pre_analyzed=%d rejected=%d credential_present=%t\n",
		raw, preAnalyzed, len(loaded.Rejected), a.Config.Oracle.APIKey.IsSet())

	result, runErr := a.Orchestrator().Run(ctx, loaded.Sources, a.Config.Oracle.APIKey.Value())
	if err := writeDocument(outPath, result.Document); err != nil {
		return err
	}
	fmt.Printf("analyze_done sessions=%d turns=%d oracle_calls=%d out=%s\n",
		result.Document.TotalFiles, result.Document.TotalTurns, result.OracleCalls, outPath)
	if runErr != nil {
		return fmt.Errorf("analysis interrupted, partial result written: %w", runErr)
	}

	if upload {
		id, err := a.Records.Store(ctx, compute.BuildRecord(result.Document))
		if err != nil {
			return err
		}
		fmt.Printf("record_id=%s\n", id)
	}
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.Records.Store(cmd.Context(), compute.BuildRecord(doc))
	if err != nil {
		return err
	}
	fmt.Printf("record_id=%s\n", id)
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	population, err := a.Records.FetchAll(cmd.Context())
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			fmt.Println("comparison unavailable")
		}
		return err
	}
	fmt.Print(FormatComparisonMarkdown(compute.Compare(doc, population)))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	sessionName, _ := cmd.Flags().GetString("session")
	withEvents, _ := cmd.Flags().GetBool("events")

	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	sessions := doc.Sessions
	if sessionName != "" {
		sessions = nil
		for _, session := range doc.Sessions {
			if session.FileName == sessionName {
				sessions = append(sessions, session)
			}
		}
		if len(sessions) == 0 {
			return fmt.Errorf("session %q not found in %s", sessionName, args[0])
		}
	}
	fmt.Print(FormatSummaryMarkdown(compute.Summarize(sessions)))

	if !withEvents {
		return nil
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Events == nil {
		return errors.New("audit events require store.sqlite_path")
	}
	stats, err := a.Events.EventStats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(FormatEventStatsMarkdown(stats))
	return nil
}

func runSetup(cmd *cobra.Command, _ []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	if strings.TrimSpace(dbPath) == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		dbPath = cfg.Store.SQLitePath
	}
	if err := store.SetupSQLite(dbPath); err != nil {
		return err
	}
	fmt.Printf("setup_done db=%s\n", dbPath)
	return nil
}

func readDocument(path string) (dataset.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return dataset.Document{}, fmt.Errorf("read result document: %w", err)
	}
	src, err := dataset.Ingest(filepath.Base(path), raw)
	if err != nil {
		return dataset.Document{}, err
	}
	if !src.PreAnalyzed {
		return dataset.Document{}, fmt.Errorf("%s is not an analysis result document", path)
	}
	var doc dataset.Document
	if err := json.Unmarshal(src.Payload, &doc); err != nil {
		return dataset.Document{}, fmt.Errorf("decode result document: %w", err)
	}
	return doc, nil
}

func writeDocument(path string, doc dataset.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result document: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write result document: %w", err)
	}
	return nil
}
