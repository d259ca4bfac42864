package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"riskmonitor/internal/storage"
)

// Export renders historical data as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, from.Unix(), to.Unix())
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
		if err := writeSpreadPNG(spreadChartPath(opts.PNGPath), downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.MarketSample, max int) []storage.MarketSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.MarketSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.MarketSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"timestamp", "time_utc", "price", "volume_24h", "change_24h", "bid_depth", "ask_depth", "total_depth", "spread_bps", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		change := ""
		if sample.Change24h != nil {
			change = formatFloat(*sample.Change24h)
		}
		record := []string{
			strconv.FormatInt(sample.Timestamp, 10),
			sample.Time().Format(time.RFC3339),
			formatFloat(sample.Price),
			formatFloat(sample.Volume24h),
			change,
			formatFloat(sample.BidDepth),
			formatFloat(sample.AskDepth),
			formatFloat(sample.TotalDepth),
			formatFloat(sample.SpreadBps),
			sample.Source,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path string, samples []storage.MarketSample) error {
	x := make([]time.Time, len(samples))
	price := make([]float64, len(samples))
	total := make([]float64, len(samples))

	for i, sample := range samples {
		x[i] = sample.Time()
		price[i] = sample.Price
		total[i] = sample.TotalDepth
	}

	graph := chart.Chart{
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
		YAxisSecondary: chart.YAxis{
			Name: "Depth (USD, ±band)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Mid price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Total depth",
				XValues: x,
				YValues: total,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(path, &graph)
}

func writeSpreadPNG(path string, samples []storage.MarketSample) error {
	x := make([]time.Time, len(samples))
	spread := make([]float64, len(samples))
	for i, sample := range samples {
		x[i] = sample.Time()
		spread[i] = sample.SpreadBps
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 480,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Spread (bps)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Spread bps",
				XValues: x,
				YValues: spread,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(path, &graph)
}

func renderPNG(path string, graph *chart.Chart) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// spreadChartPath derives "<name>-spread.png" next to the main chart.
func spreadChartPath(pngPath string) string {
	ext := filepath.Ext(pngPath)
	return strings.TrimSuffix(pngPath, ext) + "-spread" + ext
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
