package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSource\tPrice\tBid Depth\tAsk Depth\tTotal Depth\tSpread bps\tVol 24h\tChg 24h%")

	for _, sample := range samples {
		change := "-"
		if sample.Change24h != nil {
			change = strconv.FormatFloat(*sample.Change24h, 'f', 2, 64)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%.4f\t%.0f\t%.0f\t%.0f\t%.2f\t%.0f\t%s\n",
			sample.Time().Format(time.RFC3339),
			sample.Source,
			sample.Price,
			sample.BidDepth,
			sample.AskDepth,
			sample.TotalDepth,
			sample.SpreadBps,
			sample.Volume24h,
			change,
		)
	}

	return writer.Flush()
}

// ShowAlerts prints recent alert records.
func (a *App) ShowAlerts(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTime (UTC)\tType\tDispatched\tValue\tThreshold\tMessage")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%t\t%.4f\t%.4f\t%s\n",
			alert.ID,
			time.Unix(alert.Timestamp, 0).UTC().Format(time.RFC3339),
			alert.AlertType,
			alert.Dispatched,
			alert.Value,
			alert.Threshold,
			sanitizeInline(alert.Message),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
