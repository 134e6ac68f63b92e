package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/internal/compiler"
	"github.com/zzzcdf/cube.js/internal/config"
	"github.com/zzzcdf/cube.js/internal/db"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/repository"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errReported) {
			return 1
		}
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{
				"error": err.Error(),
			}
			var ce *domain.CompileError
			if errors.As(err, &ce) {
				errObj["stage"] = ce.Stage
				errObj["diagnostics"] = toDiagnosticJSON(ce.Diagnostics)
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// app is the state resolved by the root command before a subcommand runs.
type app struct {
	schema   string
	envFile  string
	logLevel string
	output   string

	cfg     *config.Config
	logger  *slog.Logger
	reg     *prometheus.Registry
	history *db.HistoryRepo
}

// compiler opens the schema repository and builds a compiler for it. Builds
// are recorded when the compile history is open.
func (a *app) compiler(ctx context.Context) (*compiler.Compiler, error) {
	repo, err := repository.Open(ctx, a.schema, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open schema repository: %w", err)
	}
	opts := a.cfg.CompilerOptions(a.logger, a.reg)
	if a.history != nil {
		opts.OnBuild = a.history.Recorder(a.logger)
	}
	return compiler.New(repo, opts), nil
}

// openHistory opens the compile history at path. An empty path leaves it
// disabled. The returned func closes the database.
func (a *app) openHistory(ctx context.Context, path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	sqlDB, err := db.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open compile history: %w", err)
	}
	a.history = db.NewHistoryRepo(sqlDB)
	return func() { _ = sqlDB.Close() }, nil
}

// compile runs one compile of the configured schema.
func (a *app) compile(ctx context.Context) (*compiler.Bundle, error) {
	c, err := a.compiler(ctx)
	if err != nil {
		return nil, err
	}
	return c.Compile(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "cubec",
		Short:         "Cube schema compiler",
		Long:          "Compiles and validates cube, view and context definitions and inspects the compiled model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(a.output); err != nil {
				return err
			}
			if err := config.LoadDotEnv(a.envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// flag > env > default
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = a.logLevel
			}
			if !cmd.Flags().Changed("schema") {
				a.schema = cfg.SchemaPath
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			a.reg = prometheus.NewRegistry()
			for _, w := range cfg.Warnings {
				a.logger.Debug("config", "warning", w)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.schema, "schema", "s", "model", "Schema location: a directory or an s3://, gs://, az:// URI (env CUBE_SCHEMA_PATH)")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newCompileCmd(a))
	rootCmd.AddCommand(newValidateCmd(a))
	rootCmd.AddCommand(newMetaCmd(a))
	rootCmd.AddCommand(newJoinPathCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newIndexCmd(a))
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}

// writeOrJSON writes v as JSON when the json output is selected and calls
// table otherwise.
func writeOrJSON(cmd *cobra.Command, v any, table func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(w, v)
	}
	table(w)
	return nil
}
