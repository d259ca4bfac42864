package app

import (
	"context"
	"errors"
	"fmt"

	"riskmonitor/internal/alerting"
)

// SimulateAlert 通过完整的告警流程（入库、冷却、投递）发送一条模拟告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if a.newNotifier() == nil {
		return errors.New("未配置任何告警通道")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("Simulated %s alert: value %.4f vs threshold %.4f", opts.AlertType, opts.Value, opts.Threshold)
	}

	engine := a.newEngine(store, nil)
	outcome, err := engine.Fire(ctx, alerting.Firing{
		AlertType: opts.AlertType,
		Message:   message,
		Value:     opts.Value,
		Threshold: opts.Threshold,
	})
	fmt.Fprintf(a.Out, "alert %d %s: %s\n", outcome.ID, outcome.AlertType, outcome.Status)
	return err
}
