package commands

import (
	"fmt"

	"datacat/pkg/app"
	"datacat/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	DC *app.App
)

// NewRootCmd 每次返回一棵新的命令树，flag 状态不会在两次执行之间残留
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "datacat",
		Short:         "datacat: a metadata catalog for versioned scientific datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		// PersistentPreRunE 会在所有子命令执行前运行
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(cfgFile); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			// 上一次执行失败时 PostRun 不会运行，沿用已有实例
			if DC != nil {
				return nil
			}
			var err error
			DC, err = app.NewApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize datacat: %w", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return nil
			}
			err := DC.Close()
			DC = nil
			return err
		},
	}

	// 1. 全局参数 --config
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.datacat/config.yaml)")

	// 2. --dsn 绑定到 database.dsn，yaml 和命令行都可以指定
	root.PersistentFlags().String("dsn", "", "metadata database DSN")
	_ = viper.BindPFlag("database.dsn", root.PersistentFlags().Lookup("dsn"))

	root.AddCommand(
		newLsCmd(),
		newStatCmd(),
		newMkdirCmd(),
		newMkdsCmd(),
		newVersionCmd(),
		newVersionsCmd(),
		newPatchCmd(),
		newRmCmd(),
		newSearchCmd(),
		newScanCmd(),
		newRegisterCmd(),
		newMetanamesCmd(),
	)
	return root
}
