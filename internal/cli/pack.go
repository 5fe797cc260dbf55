package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/diffsec/clrsentry/internal/config"
	"github.com/diffsec/clrsentry/internal/rulepack"
	"github.com/spf13/cobra"
)

// Adapted from the teacher's policy-pack commands (internal/cli/pack.go:
// list/enable/disable/show over an underscore-prefix-disables directory of
// YAML files) onto rule-pack overlays instead of shell-command policy.
var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Manage rule-pack overlays",
	Long: `Manage clrsentry rule-pack overlays.

Rule packs are YAML files that override rule severity, companion-gating, or
description without recompiling. They live in ~/.clrsentry/rulepacks/ and
are merged over the default rule set at scan time.

Examples:
  clrsentry pack list                  # List installed rule packs
  clrsentry pack enable strict-mode    # Enable a rule pack
  clrsentry pack disable strict-mode   # Disable a rule pack
  clrsentry pack show strict-mode      # Show a rule pack's contents`,
}

var packListCmd = &cobra.Command{Use: "list", Short: "List installed rule packs", RunE: packList}
var packEnableCmd = &cobra.Command{Use: "enable <pack-name>", Short: "Enable a disabled rule pack", Args: cobra.ExactArgs(1), RunE: packEnable}
var packDisableCmd = &cobra.Command{Use: "disable <pack-name>", Short: "Disable a rule pack (prefix with underscore)", Args: cobra.ExactArgs(1), RunE: packDisable}
var packShowCmd = &cobra.Command{Use: "show <pack-name>", Short: "Show a rule pack's contents", Args: cobra.ExactArgs(1), RunE: packShow}

func init() {
	packCmd.AddCommand(packListCmd, packEnableCmd, packDisableCmd, packShowCmd)
	rootCmd.AddCommand(packCmd)
}

func packDir() (string, error) {
	cfg, err := config.Load(rulePackDir, logPath, cachePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.RulePackDir, 0700); err != nil {
		return "", err
	}
	return cfg.RulePackDir, nil
}

func packList(cmd *cobra.Command, args []string) error {
	dir, err := packDir()
	if err != nil {
		return err
	}
	_, infos, err := rulepack.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load rule packs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No rule packs installed.")
		fmt.Printf("\nTo install packs, copy YAML files to: %s\n", dir)
		return nil
	}
	fmt.Println("Installed Rule Packs:")
	fmt.Println(strings.Repeat("-", 60))
	for _, info := range infos {
		mark := "[x]"
		if !info.Enabled {
			mark = "[ ]"
		}
		fmt.Printf("  %s  %-25s %d rule(s)\n", mark, info.Name, info.RuleCount)
		if info.Version != "" {
			fmt.Printf("       v%s by %s\n", info.Version, info.Author)
		}
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("\nPacks directory: %s\n", dir)
	return nil
}

func packEnable(cmd *cobra.Command, args []string) error {
	dir, err := packDir()
	if err != nil {
		return err
	}
	name := args[0]
	disabled := filepath.Join(dir, "_"+name+".yaml")
	enabled := filepath.Join(dir, name+".yaml")
	if _, err := os.Stat(disabled); err == nil {
		if err := os.Rename(disabled, enabled); err != nil {
			return fmt.Errorf("failed to enable pack: %w", err)
		}
		fmt.Printf("Pack '%s' enabled.\n", name)
		return nil
	}
	if _, err := os.Stat(enabled); err == nil {
		fmt.Printf("Pack '%s' is already enabled.\n", name)
		return nil
	}
	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

func packDisable(cmd *cobra.Command, args []string) error {
	dir, err := packDir()
	if err != nil {
		return err
	}
	name := args[0]
	enabled := filepath.Join(dir, name+".yaml")
	disabled := filepath.Join(dir, "_"+name+".yaml")
	if _, err := os.Stat(enabled); err == nil {
		if err := os.Rename(enabled, disabled); err != nil {
			return fmt.Errorf("failed to disable pack: %w", err)
		}
		fmt.Printf("Pack '%s' disabled.\n", name)
		return nil
	}
	if _, err := os.Stat(disabled); err == nil {
		fmt.Printf("Pack '%s' is already disabled.\n", name)
		return nil
	}
	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

func packShow(cmd *cobra.Command, args []string) error {
	dir, err := packDir()
	if err != nil {
		return err
	}
	name := args[0]
	path := filepath.Join(dir, name+".yaml")
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(dir, "_"+name+".yaml")
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("pack '%s' not found in %s", name, dir)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
