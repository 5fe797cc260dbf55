// Package cli wires cobra subcommands around the scanner facade, following
// the teacher's root-command shape (internal/cli/root.go: a bare rootCmd
// plus persistent flags every subcommand reads) with AgentShield's
// policy/MCP surface replaced by clrsentry's rule-pack/log/cache surface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	rulePackDir string
	logPath     string
	cachePath   string
)

var rootCmd = &cobra.Command{
	Use:   "clrsentry",
	Short: "clrsentry - static malware analysis for .NET/Unity mod assemblies",
	Long: `clrsentry statically analyzes compiled .NET assemblies (CIL bytecode plus
metadata) for patterns characteristic of Unity-mod malware: droppers,
credential exfiltration, unmanaged code loading, persistence, and
command/script host launches.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rulePackDir, "rulepacks", "", "Directory of rule-pack YAML overlays (default: ~/.clrsentry/rulepacks)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Path to diagnostic log file (default: ~/.clrsentry/clrsentry.jsonl)")
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", "", "Path to scan cache database (default: ~/.clrsentry/scancache.db)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
