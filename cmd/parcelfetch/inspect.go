package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelfetch/internal/app"
	"parcelfetch/internal/db"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/engine"
	"parcelfetch/internal/extract"
)

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <instruction>",
		Short: "Show how an instruction compiles without fetching anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *app.Runtime) error {
				plan, err := rt.Compiler.CompileText(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					if domain.IsValidation(err) {
						if viper.GetBool("json") {
							_ = printJSON(map[string]any{"ok": false, "entities": plan.Entities, "error": err.Error()})
						}
						return &exitError{code: 2, err: err}
					}
					return err
				}
				steps, skipped := engine.Expand(rt.Config, plan.Spec)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"ok":       true,
						"entities": plan.Entities,
						"spec":     plan.Spec,
						"steps":    steps,
						"skipped":  skipped,
					})
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Entities")
				tw.AppendHeader(table.Row{"Kind", "Text", "Resolved"})
				for _, e := range plan.Entities {
					tw.AppendRow(table.Row{e.Kind, e.Text, resolvedValue(e)})
				}
				tw.Render()

				fmt.Printf("Counties:  %s\n", joinAny(plan.Spec.Counties))
				fmt.Printf("TMS:       %s\n", strings.Join(plan.Spec.TMSNumbers, ", "))
				fmt.Printf("Doc types: %s\n", joinAny(plan.Spec.DocTypes))

				tw = table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Planned steps")
				tw.AppendHeader(table.Row{"#", "TMS", "Type", "County"})
				for i, s := range steps {
					tw.AppendRow(table.Row{i + 1, s.TMS, s.DocType, s.County})
				}
				tw.Render()
				for _, s := range skipped {
					fmt.Println(dimStyle.Render(fmt.Sprintf("skipped %s/%s: %s", s.TMS, s.DocType, s.Reason)))
				}
				return nil
			})
		},
	}
	return cmd
}

func resolvedValue(e domain.Entity) string {
	switch {
	case e.County != "":
		return string(e.County)
	case e.TMS != "":
		return e.TMS
	case e.All:
		return "all"
	case e.DocType != "":
		return string(e.DocType)
	default:
		return "-"
	}
}

func joinAny[T ~string](items []T) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = string(it)
	}
	return strings.Join(parts, ", ")
}

type statusFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Pages     int    `json:"pages,omitempty"`
}

func statusCmd() *cobra.Command {
	var tms string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show collected documents and runs for a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			normalized := extract.NormalizeTMS(tms)
			if !extract.LooksLikeTMS(normalized) {
				return &exitError{code: 2, err: domain.Invalid("%q is not a TMS number", tms)}
			}
			return withRuntime(func(rt *app.Runtime) error {
				ctx := cmd.Context()
				stored, err := rt.Organizer.Files(normalized)
				if err != nil {
					return err
				}
				files := make([]statusFile, 0, len(stored))
				for _, f := range stored {
					sf := statusFile{Path: f.Path, SizeBytes: f.SizeBytes}
					if strings.EqualFold(filepath.Ext(f.Path), ".pdf") {
						if n, err := api.PageCountFile(f.Path); err == nil {
							sf.Pages = n
						} else {
							rt.Logger.Warn("unreadable pdf", "path", f.Path, "error", err)
						}
					}
					files = append(files, sf)
				}

				var docs []domain.DocumentRecord
				var runs []domain.Run
				if db.Exists(rt.Workspace) {
					r, err := rt.History(ctx)
					if err != nil {
						return err
					}
					if docs, err = r.DocumentsByTMS(ctx, normalized); err != nil {
						return err
					}
					if runs, err = r.ListRuns(ctx, 10, normalized); err != nil {
						return err
					}
				}

				if viper.GetBool("json") {
					return printJSON(map[string]any{"tms": normalized, "files": files, "documents": docs, "runs": runs})
				}
				fmt.Printf("TMS %s\n", normalized)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("On disk")
				tw.AppendHeader(table.Row{"Path", "Size", "Pages"})
				for _, f := range files {
					pages := "-"
					if f.Pages > 0 {
						pages = fmt.Sprint(f.Pages)
					}
					tw.AppendRow(table.Row{f.Path, humanBytes(f.SizeBytes), pages})
				}
				tw.Render()

				if len(docs) > 0 {
					tw = table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Recorded documents")
					tw.AppendHeader(table.Row{"Type", "County", "Collected", "Checksum"})
					for _, d := range docs {
						tw.AppendRow(table.Row{d.DocType, d.County, d.CollectedAt.Local().Format("2006-01-02 15:04"), shortSum(d.Checksum)})
					}
					tw.Render()
				}
				if len(runs) > 0 {
					tw = table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Runs")
					tw.AppendHeader(table.Row{"Run", "Status", "Succeeded", "Failed", "Started"})
					for _, r := range runs {
						tw.AppendRow(table.Row{r.ID, r.Status, r.Succeeded, r.Failed, r.StartedAt})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tms, "tms", "", "TMS number")
	_ = cmd.MarkFlagRequired("tms")
	return cmd
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
