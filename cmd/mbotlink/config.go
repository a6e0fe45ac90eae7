package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbotlink/mbotlink/internal/config"
	"github.com/mbotlink/mbotlink/internal/ui"
)

var (
	configForce bool
	robotID     uint8
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			ui.PrintFailure("Config not written", err, nil)
			return err
		}
		ui.PrintSuccess("Config written", map[string]string{"Path": path})
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration as loaded from the file, with defaults and flag overrides applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configNameCmd = &cobra.Command{
	Use:   "name <nickname>",
	Short: "Give a robot id a nickname shown in monitor output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.EnsureRobot(robotID).Nickname = args[0]
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			ui.PrintFailure("Config not written", err, nil)
			return err
		}
		ui.PrintSuccess("Robot renamed", map[string]string{
			"Robot": fmt.Sprint(robotID),
			"Name":  cfg.RobotName(robotID),
		})
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configNameCmd.Flags().Uint8Var(&robotID, "robot", 0, "Robot id to name")
	configCmd.AddCommand(configInitCmd, configShowCmd, configNameCmd)
}
