package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelfetch/internal/config"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create parcelfetch.yml",
		Long:  "The config lists the supported counties (TMS pattern, document URLs, rate limits), the document type vocabulary, and the engine, retry and parser settings. Without a parcelfetch.yml the built-in Charleston and Berkeley defaults apply.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func loadEffectiveConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if dir := viper.GetString("output-dir"); dir != "" {
		cfg.Output.Dir = dir
	}
	if n := viper.GetInt("concurrency"); n > 0 {
		cfg.Engine.Concurrency = n
	}
	return cfg, nil
}

func configShowCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEffectiveConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			if asYAML {
				data, err := cfg.Marshal()
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			}
			printConfig(cfg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the effective config as YAML")
	return cmd
}

func printConfig(cfg *config.Config) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Settings")
	tw.AppendRows([]table.Row{
		{"output.dir", cfg.Output.Dir},
		{"output.min_document_bytes", cfg.Output.MinDocumentBytes},
		{"engine.concurrency", cfg.Engine.Concurrency},
		{"engine.step_timeout", cfg.Engine.StepTimeout},
		{"engine.acquire_timeout", cfg.Engine.AcquireTimeout},
		{"retry", fmt.Sprintf("%d attempts, %s base, x%g, %s cap, %g jitter",
			cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.Multiplier, cfg.Retry.MaxDelay, cfg.Retry.Jitter)},
		{"parser.strategy", cfg.Parser.Strategy},
		{"defaults.county", cfg.Defaults.County},
	})
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Counties")
	tw.AppendHeader(table.Row{"ID", "Name", "Domain", "Rate", "Document types"})
	for _, id := range cfg.CountyIDs() {
		c := cfg.Counties[string(id)]
		rate := "unlimited"
		if c.RateLimit.RequestsPerMinute > 0 {
			rate = fmt.Sprintf("%d/min burst %d", c.RateLimit.RequestsPerMinute, c.RateLimit.Burst)
		}
		tw.AppendRow(table.Row{id, c.Name, c.Domain, rate, strings.Join(c.DocTypes, ", ")})
	}
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Document types")
	tw.AppendHeader(table.Row{"ID", "File name", "Aliases"})
	for _, id := range cfg.DocTypeIDs() {
		dt := cfg.DocumentTypes[string(id)]
		aliases := append([]string(nil), dt.Aliases...)
		sort.Strings(aliases)
		name := dt.Name
		if dt.MultiInstance {
			name += "/"
		}
		tw.AppendRow(table.Row{id, name, strings.Join(aliases, ", ")})
	}
	tw.Render()
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default parcelfetch.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": path})
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate parcelfetch.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				if perr := printJSON(map[string]any{"ok": err == nil, "file": file, "error": errString(err)}); perr != nil {
					return perr
				}
				if err != nil {
					return &exitError{code: 2}
				}
				return nil
			}
			if err != nil {
				return &exitError{code: 2, err: fmt.Errorf("%s: %w", file, err)}
			}
			fmt.Printf("%s OK\n", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default <workspace>/parcelfetch.yml)")
	return cmd
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
