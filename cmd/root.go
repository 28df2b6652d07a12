package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sisques-labs/project-starter-sub009/config"
	"github.com/sisques-labs/project-starter-sub009/internal/logging"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "platform",
	Short: "Event-sourced CQRS backbone with saga orchestration",
	Long: `Platform service: commands are applied to the write model, events are stored and
projected into read models, and sagas orchestrate multi-step workflows.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./app.env)")
}

func initConfig() {
	var err error

	cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(cfg.Logging, cfg.Environment); err != nil {
		fmt.Printf("Error configuring logging: %v\n", err)
		os.Exit(1)
	}
}
