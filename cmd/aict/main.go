package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/aict-platform/aict/internal/content"
	"github.com/aict-platform/aict/internal/handler"
	appI18n "github.com/aict-platform/aict/internal/i18n"
	"github.com/aict-platform/aict/internal/model"
	"github.com/aict-platform/aict/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aict",
		Short: "AICT Essential AI-competency exam service",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), verifyCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `aict --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "aict.db", "SQLite database path")
	f.String("grading-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL for Part 3 grading")
	f.String("grading-model", "gpt-4o-mini", "Model name for Part 3 grading")
	f.StringP("lang", "l", "en", "UI language (en, ko, ja)")
	f.Int("leave-limit", 3, "Tab leaves before the attempt is force-submitted")
	f.Duration("autosave", 30*time.Second, "Autosave interval for in-progress sessions")
	f.Duration("part1-duration", 15*time.Minute, "Time allowance for Part 1")
	f.Duration("part2-duration", 15*time.Minute, "Time allowance for Part 2")
	f.Duration("part3-duration", 30*time.Minute, "Time allowance for Part 3")
	f.String("verify-base-url", "", "Public URL prefix printed on certificates")
	f.String("admin-password", "", "Initial admin password (or set AICT_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam attempts and results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "aict.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <certificate-id>",
		Short: "Look up a certificate by ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	f := cmd.Flags()
	f.String("db", "aict.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("AICT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("aict")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/aict")
	v.AddConfigPath("/etc/aict")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	bank, err := content.Load()
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	examCfg := model.ExamConfig{
		LeaveLimit:       v.GetInt("leave-limit"),
		AutosaveInterval: v.GetDuration("autosave"),
		PartDurations: map[model.PartID]time.Duration{
			model.Part1: v.GetDuration("part1-duration"),
			model.Part2: v.GetDuration("part2-duration"),
			model.Part3: v.GetDuration("part3-duration"),
		},
		Language:       lang,
		VerifyBaseURL:  strings.TrimRight(v.GetString("verify-base-url"), "/"),
		GradingBaseURL: v.GetString("grading-url"),
		GradingModel:   v.GetString("grading-model"),
	}

	exams := store.NewExams(db)
	h := handler.New(exams, bank, examCfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang, func(ctx context.Context) string {
		stored, err := exams.Preference(ctx, handler.LanguagePref)
		if err != nil {
			slog.Warn("read language preference", "error", err)
			return ""
		}
		return stored
	}))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Flush in-progress sessions before the listener goes away.
		h.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"grading_url", examCfg.GradingBaseURL,
		"grading_model", examCfg.GradingModel,
		"lang", lang,
		"leave_limit", examCfg.LeaveLimit,
		"autosave", examCfg.AutosaveInterval,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// examExport is the JSON shape written by the export subcommand.
type examExport struct {
	ExportedAt time.Time            `json:"exported_at"`
	Attempts   []attemptExport      `json:"attempts"`
	History    []model.HistoryEntry `json:"history"`
}

type attemptExport struct {
	Session     *model.ExamSession     `json:"session"`
	TaskResults []model.TaskResult     `json:"task_results,omitempty"`
	Certificate *model.CertificateData `json:"certificate,omitempty"`
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	exams := store.NewExams(db)

	ctx := context.Background()
	history, err := exams.History(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	export := examExport{
		ExportedAt: time.Now().UTC(),
		History:    history,
	}
	for _, entry := range history {
		attempt := attemptExport{}
		if attempt.Session, err = exams.Session(ctx, entry.SessionID); err != nil {
			return fmt.Errorf("load session %s: %w", entry.SessionID, err)
		}
		if attempt.TaskResults, err = exams.TaskResults(ctx, entry.SessionID); err != nil {
			return fmt.Errorf("load task results %s: %w", entry.SessionID, err)
		}
		if attempt.Certificate, err = exams.CertificateForSession(ctx, entry.SessionID); err != nil {
			return fmt.Errorf("load certificate %s: %w", entry.SessionID, err)
		}
		export.Attempts = append(export.Attempts, attempt)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	data, err := store.NewExams(db).CertificateByID(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("look up certificate: %w", err)
	}
	if data == nil {
		return fmt.Errorf("certificate %s not found", args[0])
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or AICT_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
