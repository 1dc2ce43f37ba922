package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/printer"
	"github.com/funnyzak/reportsync/internal/replay"
	"github.com/funnyzak/reportsync/internal/results"
	"github.com/funnyzak/reportsync/internal/upstream"
	"github.com/funnyzak/reportsync/pkg/i18n"
	"github.com/funnyzak/reportsync/pkg/request"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay saved captures without starting the server",
	Long: `Replay reads captures exported from the control API (a JSON array),
replays them into the destination properties and writes the result table.

Update and delete need a mapping table from an earlier create run (--mappings).`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("captures", "", "JSON file with the captures to replay (required)")
	replayCmd.Flags().String("action", "create", "Replay action (create, update, delete)")
	replayCmd.Flags().StringSliceP("destination", "d", nil, "Destination property id (repeatable)")
	replayCmd.Flags().String("template-property", "", "Property whose definitions the captures reference")
	replayCmd.Flags().String("mappings", "", "Result table from an earlier create run")
	replayCmd.Flags().String("out", "", "Write the result table to this file (- for stdout)")
	replayCmd.MarkFlagRequired("captures")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	capturesPath, _ := cmd.Flags().GetString("captures")
	actionName, _ := cmd.Flags().GetString("action")
	destinations, _ := cmd.Flags().GetStringSlice("destination")
	templateProperty, _ := cmd.Flags().GetString("template-property")
	mappingsPath, _ := cmd.Flags().GetString("mappings")
	outPath, _ := cmd.Flags().GetString("out")

	action, err := request.ParseAction(actionName)
	if err != nil {
		return err
	}
	captures, err := readCaptures(capturesPath)
	if err != nil {
		return err
	}
	batch := request.BatchCommand{
		Action:             action,
		Destinations:       destinations,
		TemplatePropertyID: templateProperty,
	}
	if mappingsPath != "" {
		if batch.Mappings, err = readMappings(mappingsPath); err != nil {
			return err
		}
	}

	// the result table owns stdout when written there
	if outPath == "-" {
		cfg.Output.Silence = true
	}

	log := logger.NewLogger(&cfg.Log, cfg.Output.Mode)
	translator, err := i18n.NewTranslator("en")
	if err != nil {
		return fmt.Errorf("failed to load locales: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	list, summary, err := replayCaptures(ctx, cfg, log, translator, captures, batch)
	if err != nil {
		return err
	}

	if err := writeResults(outPath, list); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d replays failed", summary.Failed, summary.Total)
	}
	return nil
}

// replayCaptures runs one batch over captures and collects its results in
// submission order.
func replayCaptures(ctx context.Context, cfg *config.Config, log logger.Logger, tr *i18n.Translator, captures []*request.CapturedRequest, cmd request.BatchCommand) ([]request.ReplayResult, results.Summary, error) {
	client := upstream.NewClient(log, upstream.OptionsFromConfig(cfg.Upstream))
	defer client.Close()

	opts, err := replay.OptionsFromConfig(cfg.Replay, client.ReportEndpoint(), client.PrefixLength())
	if err != nil {
		return nil, results.Summary{}, err
	}
	orch := replay.New(client, log, opts)
	for _, c := range captures {
		if !orch.Add(c) {
			log.Warn("Skipping duplicate capture", "id", c.ID)
		}
	}

	var out printer.Printer
	if !cfg.Output.Silence {
		out = printer.New(cfg.Output.Mode, log, &cfg.Output, tr, cfg.Upstream.LinkTemplate)
	}

	var list []request.ReplayResult
	_, err = orch.Execute(ctx, cmd, func(ev events.Event) {
		if ev.Result != nil {
			list = append(list, *ev.Result)
		}
		if out != nil {
			if err := out.PrintEvent(ev); err != nil {
				log.Warn("Failed to print event", "error", err)
			}
		}
	})
	if err != nil {
		return nil, results.Summary{}, err
	}
	return list, results.Summarize(list), nil
}

func readCaptures(path string) ([]*request.CapturedRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read captures: %w", err)
	}
	var captures []*request.CapturedRequest
	if err := json.Unmarshal(data, &captures); err != nil {
		return nil, fmt.Errorf("decode captures %s: %w", path, err)
	}

	out := captures[:0]
	for _, c := range captures {
		if c == nil {
			continue
		}
		if c.SourcePropertyID == "" {
			c.SourcePropertyID = request.PropertyIDFromURL(c.SourceURL)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no captures in %s", path)
	}
	return out, nil
}

func readMappings(path string) ([]request.ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	defer f.Close()

	list, err := results.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse mappings %s: %w", path, err)
	}
	return list, nil
}

func writeResults(path string, list []request.ReplayResult) error {
	if path == "" {
		return nil
	}

	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	if err := results.WriteCSV(w, list); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
