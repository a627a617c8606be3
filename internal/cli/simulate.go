package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"shopwatch/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格或库存变化并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.OldPrice == "" || simulateOpts.NewPrice == "" {
			return errors.New("--old-price 与 --new-price 必须提供")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Name, "name", "", "商品名称")
	simulateCmd.Flags().StringVar(&simulateOpts.OldPrice, "old-price", "", "上次记录的价格")
	simulateCmd.Flags().StringVar(&simulateOpts.NewPrice, "new-price", "", "本次抓取的价格")
	simulateCmd.Flags().StringVar(&simulateOpts.OldStock, "old-stock", "", "上次记录的库存状态")
	simulateCmd.Flags().StringVar(&simulateOpts.NewStock, "new-stock", "", "本次抓取的库存状态")
	simulateCmd.Flags().StringVar(&simulateOpts.Threshold, "threshold", "", "价格变动告警阈值")
}
