package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelfetch/internal/app"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/engine"
	"parcelfetch/internal/progress"
)

var bannerBase = lipgloss.NewStyle().Bold(true).Padding(0, 1)

var bannerByStatus = map[domain.RunStatus]lipgloss.Style{
	domain.RunSuccess:        bannerBase.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#2E7D32")),
	domain.RunPartialFailure: bannerBase.Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#F9A825")),
	domain.RunFailure:        bannerBase.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#C62828")),
}

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

func executeCmd() *cobra.Command {
	var saveResults string
	cmd := &cobra.Command{
		Use:   "execute <instruction>",
		Short: "Compile an instruction and collect its documents",
		Long:  "Compile the instruction, fetch every planned document and organize the results. Ctrl-C stops scheduling; queued steps are reported as cancelled.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction := strings.Join(args, " ")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(func(rt *app.Runtime) error {
				asJSON := viper.GetBool("json")
				var observer progress.Observer
				if !asJSON {
					observer = printProgress
				}
				out, err := rt.Execute(ctx, instruction, observer)
				if err != nil {
					return &exitError{code: app.ExitCode(out.Report.Result, err), err: err}
				}
				execLog := app.NewExecutionLog(out.Plan, out.Report)
				if saveResults != "" {
					if err := saveJSON(saveResults, execLog); err != nil {
						return err
					}
				}
				if asJSON {
					if err := printJSON(struct {
						app.ExecutionLog
						LogPath string `json:"log_path"`
					}{execLog, out.LogPath}); err != nil {
						return err
					}
				} else {
					printResult(out, execLog)
				}
				code := app.ExitCode(out.Report.Result, nil)
				if ctx.Err() != nil && cmd.Context().Err() == nil {
					code = 130
				}
				if code != 0 {
					return &exitError{code: code}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&saveResults, "save-results", "", "also write the execution log to this file")
	return cmd
}

func printProgress(tr domain.Transition, s progress.Snapshot) {
	if !tr.To.Terminal() {
		return
	}
	line := fmt.Sprintf("[%5.1f%%] %-28s %-9s %s", s.PercentComplete, tr.Step, tr.To, tr.County)
	if tr.Kind != "" {
		line += fmt.Sprintf(" (%s: %s)", tr.Kind, tr.Message)
	}
	fmt.Fprintln(os.Stderr, line)
}

func printResult(out app.Outcome, execLog app.ExecutionLog) {
	res := out.Report.Result
	style, ok := bannerByStatus[res.Status]
	if !ok {
		style = bannerBase
	}
	fmt.Println()
	fmt.Println(style.Render(strings.ToUpper(strings.ReplaceAll(string(res.Status), "_", " "))) + " " + dimStyle.Render("run "+res.RunID))
	fmt.Println(engine.Summary(res))

	if len(res.Documents) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetTitle("Documents")
		tw.AppendHeader(table.Row{"TMS", "Type", "County", "Size", "Path"})
		for _, d := range res.Documents {
			tw.AppendRow(table.Row{d.TMS, d.DocType, d.County, humanBytes(d.SizeBytes), d.Path})
		}
		tw.AppendFooter(table.Row{"", "", "Total", humanBytes(execLog.Summary.TotalBytes), ""})
		tw.Render()
	}
	if len(res.Errors) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetTitle("Errors")
		tw.AppendHeader(table.Row{"TMS", "Type", "County", "Kind", "Message"})
		for _, e := range res.Errors {
			tw.AppendRow(table.Row{e.Step.TMS, e.Step.DocType, e.County, e.Kind, e.Message})
		}
		tw.Render()
	}
	for _, s := range res.Skipped {
		fmt.Println(dimStyle.Render(fmt.Sprintf("skipped %s/%s: %s", s.TMS, s.DocType, s.Reason)))
	}
	if out.LogPath != "" {
		fmt.Println(dimStyle.Render("execution log: " + out.LogPath))
	}
}

func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
