package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"
)

// List prints saved product snapshots, or monitored products when
// opts.Monitored is set.
func (a *App) List(ctx context.Context, opts ListOptions) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	if opts.Monitored {
		items, err := repo.Monitored(ctx)
		if err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
		items = limit(items, opts.Limit)
		if len(items) == 0 {
			a.Logger.Info().Msg("no monitored products")
			return nil
		}

		fmt.Fprintln(writer, "ID\tName\tPrice\tStock\tEvery\tEnabled\tLast Checked\tFailures")
		for _, p := range items {
			checked := "-"
			if p.LastCheckedAt != nil {
				checked = p.LastCheckedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%dm\t%t\t%s\t%d\n",
				p.ID, sanitizeInline(p.Name), p.LastKnownPrice.String(), orDash(string(p.LastKnownStock)),
				p.CheckIntervalMinutes, p.Enabled, checked, p.ConsecutiveFailures)
		}
		return nil
	}

	items, err := repo.Products(ctx)
	if err != nil {
		return err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ExtractedAt.After(items[j].ExtractedAt) })
	items = limit(items, opts.Limit)
	if len(items) == 0 {
		a.Logger.Info().Msg("no saved products")
		return nil
	}

	fmt.Fprintln(writer, "ID\tName\tPrice\tCurrency\tStock\tExtracted\tURL")
	for _, p := range items {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, sanitizeInline(p.Name), p.Price.String(), orDash(p.Currency), orDash(string(p.Stock)),
			p.ExtractedAt.UTC().Format(time.RFC3339), p.URL)
	}
	return nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
