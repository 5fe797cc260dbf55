package cli

import (
	"fmt"
	"strings"

	"github.com/diffsec/clrsentry/internal/config"
	"github.com/spf13/cobra"
)

// Adapted from the teacher's status command (internal/cli/status.go: dump
// resolved policy + hook wiring state) onto the resolved rule registry and
// config, since clrsentry has no MCP hook state to report.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the resolved rule registry and active configuration",
	Long: `Prints every rule in the default registry, with any rule-pack overrides
applied, followed by the resolved scan configuration (spec.md §6 Options).

  clrsentry rules`,
	RunE: rulesCommand,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

func rulesCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(rulePackDir, logPath, cachePath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	fmt.Println("Rule Registry:")
	fmt.Println(strings.Repeat("-", 72))
	for _, r := range reg.Rules() {
		companion := ""
		if r.RequiresCompanion {
			companion = " [companion-gated]"
		}
		fmt.Printf("  %-28s %-8s%s\n", r.ID, colorizeSeverity(r.Severity.String()), companion)
		if r.Description != "" {
			fmt.Printf("      %s\n", r.Description)
		}
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%d rule(s) loaded.\n\n", len(reg.Rules()))

	fmt.Println("Active Configuration:")
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("  AnalyzeExceptionHandlers:   %t\n", cfg.Options.AnalyzeExceptionHandlers)
	fmt.Printf("  AnalyzeLocalVariables:      %t\n", cfg.Options.AnalyzeLocalVariables)
	fmt.Printf("  MinimumEncodedStringLength: %d\n", cfg.Options.MinimumEncodedStringLength)
	fmt.Printf("  DeepAnalysis.Enabled:       %t\n", cfg.Options.DeepAnalysis.EnableDeepAnalysis)
	fmt.Printf("  RulePackDir:                %s\n", cfg.RulePackDir)
	fmt.Printf("  LogPath:                    %s\n", cfg.LogPath)
	fmt.Printf("  CachePath:                  %s\n", cfg.CachePath)
	return nil
}
