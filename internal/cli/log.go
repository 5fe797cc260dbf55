package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/diffsec/clrsentry/internal/config"
	"github.com/diffsec/clrsentry/internal/logger"
	"github.com/spf13/cobra"
)

var (
	logFilterLevel string
	logLastN       int
)

// Adapted from the teacher's audit-log viewer (internal/cli/log.go: read a
// JSON-lines file, filter by a decision field, tail the last N) onto
// logger.Entry, filtering by level instead of allow/deny decision.
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the clrsentry diagnostic log",
	Long: `Reads the JSON-lines diagnostic log clrsentry writes during scans and
prints matching entries.

  clrsentry log --level error --last 50`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterLevel, "level", "", "Only show entries at this level (debug, info, warning, error)")
	logCmd.Flags().IntVar(&logLastN, "last", 0, "Only show the last N matching entries (0 = all)")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(rulePackDir, logPath, cachePath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	entries, err := readLog(cfg.LogPath)
	if err != nil {
		return err
	}

	if logFilterLevel != "" {
		want := strings.ToLower(logFilterLevel)
		filtered := entries[:0]
		for _, e := range entries {
			if strings.ToLower(e.Level) == want {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if logLastN > 0 && len(entries) > logLastN {
		entries = entries[len(entries)-logLastN:]
	}

	if len(entries) == 0 {
		fmt.Println("No matching log entries.")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("[%s] %-7s %s", e.Timestamp, colorizeLevel(strings.ToUpper(e.Level)), e.Message)
		if e.Error != "" {
			line += fmt.Sprintf(" (%s)", e.Error)
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d entr(y/ies) shown.\n", len(entries))
	return nil
}

func readLog(path string) ([]logger.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()

	var entries []logger.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e logger.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log %s: %w", path, err)
	}
	return entries, nil
}
