package commands

import (
	"fmt"
	"log"
	"os"

	"comicvault/config"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	configPath string
	libraryDir string
	logFile    string
	headless   bool
)

var rootCmd = &cobra.Command{
	Use:   "comicvault",
	Short: "A manga archiving tool",
	Long: `A command-line tool that downloads manga titles chapter by chapter into CBZ archives.
Run without a subcommand for the interactive prompt.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrompt(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&libraryDir, "dir", "", "Library directory (overrides [library] dir)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write log output to this file")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run Chrome headless")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(proxyCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if libraryDir != "" {
		loaded.Library.Dir = libraryDir
	}
	if cmd.Flags().Changed("headless") {
		loaded.Browser.Headless = headless
	}
	cfg = loaded
	return nil
}
