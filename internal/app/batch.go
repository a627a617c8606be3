package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"shopwatch/internal/batch"
	"shopwatch/internal/collector"
	"shopwatch/internal/domain"
	"shopwatch/internal/service"
	"shopwatch/internal/urlutil"
)

type targetFile struct {
	Targets []string `yaml:"targets"`
}

// LoadTargets reads a YAML file holding either a bare list of URLs or a
// mapping with a targets key.
func LoadTargets(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read target file: %w", err)
	}

	var list []string
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var file targetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse target file %s: %w", path, err)
	}
	return file.Targets, nil
}

// Batch collects the given targets once and prints the run summary.
func (a *App) Batch(ctx context.Context, opts BatchOptions) error {
	targets := append([]string(nil), opts.Targets...)
	if opts.File != "" {
		fromFile, err := LoadTargets(opts.File)
		if err != nil {
			return err
		}
		targets = append(targets, fromFile...)
	}
	if len(targets) == 0 {
		return errors.New("no targets given; pass URLs or --file")
	}

	if opts.DryRun {
		matcher, err := urlutil.NewMatcher(a.Config.Batch.TargetPatterns)
		if err != nil {
			return err
		}
		queue := batch.New(nil, nil, nil, collector.Default(), matcher, a.Logger).Prepare(targets)
		a.Logger.Warn().Int("submitted", len(targets)).Int("queued", len(queue)).Msg("batch dry-run: nothing will be collected")
		for _, t := range queue {
			fmt.Fprintln(os.Stdout, t.Canonical)
		}
		return nil
	}

	engine, cleanup, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runOpts := service.BatchOptions(a.Config.Batch)
	if opts.PerItemDelay > 0 {
		runOpts.PerItemDelay = opts.PerItemDelay
	}
	if opts.MaxRetries > 0 {
		runOpts.MaxRetries = opts.MaxRetries
	}

	run, err := engine.RunBatch(ctx, targets, runOpts, func(p domain.Progress) {
		a.Logger.Info().
			Int("current", p.Current).
			Int("total", p.Total).
			Str("percent", fmt.Sprintf("%.1f", p.Percent)).
			Str("label", p.Label).
			Msg("batch progress")
	})
	if err != nil {
		return err
	}

	printRun(run)
	if run.Failed > 0 {
		return fmt.Errorf("%d of %d targets failed", run.Failed, run.Total)
	}
	return nil
}

func printRun(run *domain.BatchRun) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Run %s: %s, %d/%d succeeded\n", run.ID, run.Status, run.Succeeded, run.Total)
	fmt.Fprintln(writer, "#\tResult\tAttempts\tURL\tDetail")
	for _, r := range run.Results {
		result, detail := "ok", r.Name
		if !r.Success {
			result, detail = "failed", sanitizeInline(r.Reason)
		}
		fmt.Fprintf(writer, "%d\t%s\t%d\t%s\t%s\n", r.Index+1, result, r.Attempts, r.URL, detail)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
