package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
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
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mindcheck/internal/checkup"
	"github.com/pavelanni/mindcheck/internal/counsel"
	"github.com/pavelanni/mindcheck/internal/handler"
	appI18n "github.com/pavelanni/mindcheck/internal/i18n"
	"github.com/pavelanni/mindcheck/internal/journal"
	"github.com/pavelanni/mindcheck/internal/llm"
	"github.com/pavelanni/mindcheck/internal/llm/prompts"
	"github.com/pavelanni/mindcheck/internal/metrics"
	"github.com/pavelanni/mindcheck/internal/model"
	"github.com/pavelanni/mindcheck/internal/mood"
	"github.com/pavelanni/mindcheck/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mindcheck",
		Short: "Adaptive mental-health checkups for school students",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importQuestionsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "mindcheck.db", "SQLite database path")
	f.String("questions", "", "Static questionnaire JSON file to import on startup")
	f.String("llm-provider", "openai", "Generator backend (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the generator")
	f.String("llm-model", "llama3.2", "Generator model name")
	f.Float64("llm-rate", 15, "Maximum generator calls per minute (0 = unlimited)")
	f.Int("llm-burst", 3, "Generator call burst size")
	f.StringP("lang", "l", "en", "Default UI language (en, hi)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /checkup)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Bool("allow-signup", true, "Allow students to register themselves")
	f.StringSlice("cors-origins", nil, "Allowed browser origins for the front-end")
	f.Duration("session-ttl", 2*time.Hour, "Drop checkup sessions idle for longer than this")
	f.String("school", "", "School name recorded for exports")
	f.String("admin-password", "", "Initial admin password (or set MINDCHECK_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export checkup reports as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "mindcheck.db", "SQLite database path")
	f.String("school", "", "School name for output (defaults to the stored name)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importQuestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-questions FILE",
		Short: "Replace the static questionnaire from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportQuestions,
	}
	f := cmd.Flags()
	f.String("db", "mindcheck.db", "SQLite database path")
	f.Bool("force", false, "Import even if the file was already imported")
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

	v.SetEnvPrefix("MINDCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mindcheck")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mindcheck")
	v.AddConfigPath("/etc/mindcheck")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if school := v.GetString("school"); school != "" {
		if err := db.SetSchoolName(school); err != nil {
			return fmt.Errorf("store school name: %w", err)
		}
	}
	if path := v.GetString("questions"); path != "" {
		if _, err := importQuestions(ctx, db, path, false); err != nil {
			return fmt.Errorf("import questions: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	gen, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}

	metrics.Init()

	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	checkups := checkup.NewManager(checkup.Deps{
		Generator: gen,
		Subjects:  db,
		Reports:   db,
	}, db.ListQuestions)
	checkups.StartJanitor(ctx, time.Minute, v.GetDuration("session-ttl"))
	go cleanupAuthSessions(ctx, db, time.Hour)

	h := handler.New(db, checkups, journal.New(db, gen), counsel.New(gen), mood.New(db), model.ServerConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		AllowSignup:   v.GetBool("allow-signup"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Accept-Language", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Location", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware())

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"llm_provider", v.GetString("llm-provider"),
			"model", v.GetString("llm-model"),
			"lang", lang,
			"languages", appI18n.Languages(),
			"base_path", basePath,
			"allow_signup", v.GetBool("allow-signup"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down", "open_checkups", checkups.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newGenerator builds the configured generator backend, wrapped in a rate
// limiter when llm-rate is positive.
func newGenerator(ctx context.Context, v *viper.Viper) (llm.Generator, error) {
	var gen llm.Generator
	switch provider := strings.ToLower(v.GetString("llm-provider")); provider {
	case "gemini":
		g, err := llm.NewGemini(ctx, v.GetString("llm-key"), v.GetString("llm-model"))
		if err != nil {
			return nil, fmt.Errorf("create Gemini client: %w", err)
		}
		gen = g
		slog.Info("using Gemini generator", "model", v.GetString("llm-model"))
	case "openai", "":
		c := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		if err := c.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		gen = c
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	default:
		return nil, fmt.Errorf("unknown llm-provider %q (want openai or gemini)", provider)
	}

	if perMinute := v.GetFloat64("llm-rate"); perMinute > 0 {
		gen = llm.NewLimited(gen, perMinute, v.GetInt("llm-burst"))
	}
	return gen, nil
}

func cleanupAuthSessions(ctx context.Context, db *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupExpiredSessions()
			if err != nil {
				slog.Error("failed to clean up auth sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("removed expired auth sessions", "count", n)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllReports(cmd.Context())
	if err != nil {
		return fmt.Errorf("export reports: %w", err)
	}

	school := v.GetString("school")
	if school == "" {
		if school, err = db.GetSchoolName(); err != nil {
			return fmt.Errorf("read school name: %w", err)
		}
	}

	total, err := db.ReportCount()
	if err != nil {
		return fmt.Errorf("count reports: %w", err)
	}

	export := model.ReportExport{
		School:      school,
		GeneratedAt: time.Now().UTC(),
		NumStudents: len(results),
		NumReports:  total,
		Results:     results,
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
	_, _ = fmt.Fprintln(w)

	slog.Info("exported reports", "students", len(results), "reports", total, "output", outPath)
	return nil
}

func runImportQuestions(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := importQuestions(cmd.Context(), db, args[0], v.GetBool("force"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d questions from %s\n", n, args[0])
	return nil
}

// importQuestions replaces the static questionnaire with the contents of
// path. An unchanged file is skipped unless force is set.
func importQuestions(ctx context.Context, db *store.Store, path string, force bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(path)
	if err != nil {
		return 0, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash && !force {
		slog.Info("questions file unchanged, skipping", "path", path)
		return 0, nil
	}

	questions, err := checkup.ParseQuestionnaire(data)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := db.ReplaceQuestions(ctx, questions); err != nil {
		return 0, fmt.Errorf("store questions from %s: %w", path, err)
	}
	if err := db.SetImportedFileHash(path, hash); err != nil {
		return 0, fmt.Errorf("record import for %s: %w", path, err)
	}

	slog.Info("imported questions", "path", path, "count", len(questions))
	return len(questions), nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
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
		return fmt.Errorf("admin password is required: set --admin-password flag or MINDCHECK_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
