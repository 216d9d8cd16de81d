package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Entity classification and hybrid search service",
	Long: `triage classifies incoming emails, offers and documents with organization
rules, domain lists and an optional AI classifier, and indexes substantive
content for hybrid keyword and vector search.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: config/$ENV.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"},
		".env files loaded before the config; missing files are ignored")
}
