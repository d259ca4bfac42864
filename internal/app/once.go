package app

import (
	"context"
	"fmt"
	"time"

	"riskmonitor/internal/service"
)

// RunOnce 执行一次完整的采样周期并打印结果。
func (a *App) RunOnce(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	monitor, err := a.newMonitor(store, nil)
	if err != nil {
		return err
	}

	if timeout := a.Config.Scheduler.CycleTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	bucket := time.Now().UTC().Truncate(time.Second)
	if a.Config.Scheduler.AlignToBucket {
		bucket = bucket.Truncate(a.Config.Scheduler.Interval)
	}

	result, err := monitor.RunCycle(ctx, bucket)
	a.printCycle(result)
	return err
}

func (a *App) printCycle(result service.CycleResult) {
	if result.Skipped {
		fmt.Fprintln(a.Out, "cycle skipped: advisory lock held by another monitor")
		return
	}
	if result.Sample.Source == "" {
		return
	}

	s := result.Sample
	fmt.Fprintf(a.Out, "cycle %s @ %s\n", result.CycleID, s.Time().Format(time.RFC3339))
	fmt.Fprintf(a.Out, "  source      %s\n", s.Source)
	fmt.Fprintf(a.Out, "  price       %.4f\n", s.Price)
	fmt.Fprintf(a.Out, "  bid depth   %.2f\n", s.BidDepth)
	fmt.Fprintf(a.Out, "  ask depth   %.2f\n", s.AskDepth)
	fmt.Fprintf(a.Out, "  total depth %.2f\n", s.TotalDepth)
	fmt.Fprintf(a.Out, "  spread bps  %.2f\n", s.SpreadBps)
	if s.Change24h != nil {
		fmt.Fprintf(a.Out, "  24h change  %.2f%%  volume %.0f\n", *s.Change24h, s.Volume24h)
	}
	for _, o := range result.Outcomes {
		fmt.Fprintf(a.Out, "  alert %-13s %-10s %s\n", o.AlertType, o.Status, o.Message)
	}
}
