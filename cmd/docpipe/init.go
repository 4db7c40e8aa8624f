package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/config"
	"github.com/jackzampolin/docpipe/internal/home"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the docpipe home directory",
	Long: `Create the docpipe home directory and write a default config file.

The config file documents every setting with its default value. API
keys are referenced as ${ENV_VAR} and resolved from the environment
at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgPath := h.ConfigPath()
		if _, err := os.Stat(cfgPath); err == nil && !initForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
		}

		if err := config.WriteDefault(cfgPath); err != nil {
			return err
		}

		fmt.Printf("Initialized %s\n", h.Path())
		fmt.Printf("Config written to %s\n", cfgPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
