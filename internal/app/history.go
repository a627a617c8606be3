package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"shopwatch/internal/domain"
)

// History exports the price history of one monitored product as CSV and/or PNG.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	items, err := repo.Monitored(ctx)
	if err != nil {
		return err
	}
	var product *domain.MonitoredProduct
	for i := range items {
		if items[i].ID == opts.ProductID {
			product = &items[i]
			break
		}
	}
	if product == nil {
		return fmt.Errorf("product %s is not monitored", opts.ProductID)
	}

	points := windowPoints(product.PriceHistory, opts.From, opts.To)
	if len(points) == 0 {
		a.Logger.Info().Str("product", product.ID).Msg("no price points in export window")
		return nil
	}

	sampled := downsample(points, opts.MaxPoints)
	a.Logger.Info().Str("product", product.ID).Int("total", len(points)).Int("exported", len(sampled)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writePointsCSV(w, sampled) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writePointsPNG(w, product.Name, sampled) }); err != nil {
			return err
		}
	}
	return nil
}

func windowPoints(points []domain.PricePoint, from, to *time.Time) []domain.PricePoint {
	out := make([]domain.PricePoint, 0, len(points))
	for _, p := range points {
		if from != nil && p.Timestamp.Before(*from) {
			continue
		}
		if to != nil && p.Timestamp.After(*to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func downsample(points []domain.PricePoint, max int) []domain.PricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]domain.PricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(w io.Writer, points []domain.PricePoint) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "price"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := writer.Write([]string{p.Timestamp.UTC().Format(time.RFC3339), p.Value.String()}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writePointsPNG(w io.Writer, name string, points []domain.PricePoint) error {
	// go-chart needs at least two values to compute axis ranges.
	if len(points) == 1 {
		points = append(points, points[0])
		points[1].Timestamp = points[1].Timestamp.Add(time.Second)
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Timestamp
		y[i] = p.Value.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  name,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

func writeFile(path string, render func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
