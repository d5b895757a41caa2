package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelfetch/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "parcelfetch",
	Short: "Parcelfetch CLI",
	Long: `Parcelfetch turns a free-text instruction into an organized set of county property documents.
- Instruction: plain text such as "collect property card and tax info for Charleston County TMS 5590200072".
- Workflow spec: the validated counties, TMS numbers and document types the instruction asks for.
- Steps: one fetch per (TMS, document type), run with bounded concurrency, per-domain rate limits and retries.
- Output: documents land under <output-dir>/<tms>/ and every run writes logs/execution_<run-id>.json.
- History: runs, documents and transitions are recorded in .parcelfetch/parcelfetch.db in the workspace.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit status alongside the error to print.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		if ee == nil || ee.err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(code)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PARCELFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory holding parcelfetch.yml and run history")
	flags.Bool("json", false, "output JSON")
	flags.String("output-dir", "", "document output directory (overrides output.dir)")
	flags.Int("concurrency", 0, "maximum concurrent fetches (overrides engine.concurrency)")
	flags.Bool("mock", false, "serve documents from the built-in demo data set")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "output-dir", "concurrency", "mock", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(executeCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(selfTestCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openRuntime() (*app.Runtime, error) {
	return app.Open(app.Options{
		Workspace:   viper.GetString("workspace"),
		OutputDir:   viper.GetString("output-dir"),
		Concurrency: viper.GetInt("concurrency"),
		Mock:        viper.GetBool("mock"),
		Logger:      newLogger(),
	})
}

func withRuntime(fn func(*app.Runtime) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
