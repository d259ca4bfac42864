package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"riskmonitor/internal/app"
	"riskmonitor/internal/storage"
)

var (
	simulateType      string
	simulateValue     float64
	simulateThreshold float64
	simulateMessage   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次风险告警并走完整投递流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		alertType, err := storage.ParseAlertType(simulateType)
		if err != nil {
			return err
		}
		if simulateThreshold == 0 && simulateValue == 0 {
			return errors.New("--value 与 --threshold 不能同时为 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			AlertType: alertType,
			Value:     simulateValue,
			Threshold: simulateThreshold,
			Message:   simulateMessage,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateType, "type", string(storage.AlertWideSpread), "告警类型: DEPTH_DECLINE, WIDE_SPREAD, LOW_VRP")
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "触发值")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "阈值")
	simulateCmd.Flags().StringVar(&simulateMessage, "message", "", "自定义告警正文（可选）")
}
