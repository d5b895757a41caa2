package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelfetch/internal/app"
	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/navigator"
	"parcelfetch/internal/organizer"
)

const sampleInstruction = "Collect property card and tax info for Charleston County TMS 5590200072"

type checkResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail"`
	Elapsed string `json:"elapsed"`
}

type check struct {
	name string
	run  func(context.Context) (string, error)
}

func selfTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the built-in self-check against the demo data set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			scratch, err := os.MkdirTemp("", "parcelfetch-selftest-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(scratch)

			results := runChecks(cmd.Context(), selfChecks(cfg, scratch))
			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
			}
			if viper.GetBool("json") {
				if err := printJSON(map[string]any{"ok": failed == 0, "checks": results}); err != nil {
					return err
				}
			} else {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Check", "Result", "Detail", "Time"})
				for _, r := range results {
					mark := "PASS"
					if !r.OK {
						mark = "FAIL"
					}
					tw.AppendRow(table.Row{r.Name, mark, r.Detail, r.Elapsed})
				}
				tw.Render()
			}
			if failed > 0 {
				return &exitError{code: 1, err: fmt.Errorf("%d of %d checks failed", failed, len(results))}
			}
			return nil
		},
	}
	return cmd
}

func runChecks(ctx context.Context, checks []check) []checkResult {
	out := make([]checkResult, 0, len(checks))
	for _, c := range checks {
		start := time.Now()
		detail, err := c.run(ctx)
		r := checkResult{Name: c.name, OK: err == nil, Detail: detail, Elapsed: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			r.Detail = err.Error()
		}
		out = append(out, r)
	}
	return out
}

func selfChecks(cfg *config.Config, scratch string) []check {
	return []check{
		{"config", func(context.Context) (string, error) {
			if err := cfg.Validate(); err != nil {
				return "", err
			}
			return fmt.Sprintf("%d counties, %d document types", len(cfg.Counties), len(cfg.DocumentTypes)), nil
		}},
		{"organizer", func(context.Context) (string, error) {
			org := organizer.New(filepath.Join(scratch, "organizer"), cfg.Output.MinDocumentBytes, cfg.DocumentTypes, newLogger())
			doc := navigator.Document{Data: navigator.RenderPDF("parcelfetch self-check", "TMS 5590200072"), ContentType: "application/pdf"}
			rec, err := org.Store("5590200072", "property_card", "charleston", doc)
			if err != nil {
				return "", err
			}
			info, err := os.Stat(rec.Path)
			if err != nil {
				return "", err
			}
			if info.Size() != rec.SizeBytes {
				return "", fmt.Errorf("stored %d bytes, recorded %d", info.Size(), rec.SizeBytes)
			}
			return filepath.Base(rec.Path), nil
		}},
		{"compile", func(ctx context.Context) (string, error) {
			rt, err := app.Open(app.Options{Workspace: scratch, Config: cfg, Mock: true, Logger: newLogger()})
			if err != nil {
				return "", err
			}
			defer rt.Close()
			plan, err := rt.Compiler.CompileText(ctx, sampleInstruction)
			if err != nil {
				return "", err
			}
			if len(plan.Spec.DocTypes) != 2 || len(plan.Spec.TMSNumbers) != 1 {
				return "", fmt.Errorf("unexpected spec %+v", plan.Spec)
			}
			return fmt.Sprintf("%d entities", len(plan.Entities)), nil
		}},
		{"end-to-end (mock)", func(ctx context.Context) (string, error) {
			rt, err := app.Open(app.Options{
				Workspace: filepath.Join(scratch, "e2e"),
				OutputDir: filepath.Join(scratch, "e2e", "output"),
				Config:    cfg,
				Mock:      true,
				Logger:    newLogger(),
			})
			if err != nil {
				return "", err
			}
			defer rt.Close()
			out, err := rt.Execute(ctx, sampleInstruction, nil)
			if err != nil {
				return "", err
			}
			res := out.Report.Result
			if res.Status != domain.RunSuccess {
				return "", fmt.Errorf("run finished %s with %d errors", res.Status, len(res.Errors))
			}
			return fmt.Sprintf("%d documents in %s", len(res.Documents), res.Elapsed.Round(time.Millisecond)), nil
		}},
	}
}
