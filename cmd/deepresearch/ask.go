package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/pkg/pipeline"
)

var askFlags struct {
	mode   string
	output string
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Research one question and print the report",
	Long: `Run the full pipeline for one question: query expansion, web evidence
gathering and synthesis. The Markdown report is printed to stdout, or
written to --output.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	f := askCmd.Flags()
	f.StringVar(&askFlags.mode, "mode", "", "Source mode (default: pipeline.mode from config)")
	f.StringVarP(&askFlags.output, "output", "o", "", "Write the report to this file")
}

var stageDescriptions = map[models.State]string{
	models.StateExpanding:    " Expanding question into search queries...",
	models.StateGathering:    " Searching the web and filtering evidence...",
	models.StateSynthesizing: " Writing report...",
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	mode := askFlags.mode
	if mode == "" {
		mode = cfg.Pipeline.Mode
	}
	question := strings.Join(args, " ")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Pipeline.Timeout)
	defer cancel()

	spinner := getSpinner(" Starting...")
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				spinner.Add(1)
			}
		}
	}()

	outcome := p.Run(ctx, question, mode, pipeline.WithObserver(func(from, to models.State) {
		if desc, ok := stageDescriptions[to]; ok {
			spinner.Describe(color.CyanString(desc))
		}
	}))
	close(done)
	spinner.Finish()
	fmt.Fprintln(os.Stderr)

	if !outcome.Succeeded() {
		f := outcome.Failure
		color.Red("✗ %s during %s", f.Kind, f.Stage)
		return fmt.Errorf("research failed: %s", f.Message)
	}

	color.Green("✓ Report ready with %d cited sources (run %s)", len(outcome.Report.Sources), outcome.RunID)

	if askFlags.output != "" {
		if err := os.WriteFile(askFlags.output, []byte(outcome.Report.Markdown), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		color.Blue("Report written to %s", askFlags.output)
		return nil
	}

	fmt.Println()
	fmt.Print(outcome.Report.Markdown)
	return nil
}
