package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/diffsec/clrsentry/internal/config"
	"github.com/diffsec/clrsentry/internal/crossasm"
	"github.com/diffsec/clrsentry/internal/findingdto"
	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/logger"
	"github.com/diffsec/clrsentry/internal/scanner"
	"github.com/spf13/cobra"
)

var batchPolicy string

var batchCmd = &cobra.Command{
	Use:   "scan-batch <dir>",
	Short: "Scan every .dll in a directory and propagate cross-assembly risk",
	Long: `Scans every .dll directly under <dir> (mods/plugins/patchers sharing a
batch), builds the cross-assembly dependency graph, and propagates
high-severity findings per the chosen quarantine policy (spec.md §4.10).

  clrsentry scan-batch ./Mods --policy CallerAndCallee`,
	Args: cobra.ExactArgs(1),
	RunE: batchCommand,
}

func init() {
	batchCmd.Flags().StringVar(&batchPolicy, "policy", "CallerAndCallee", "Quarantine policy: CallerOnly, CallerAndCallee, DependencyCluster")
	rootCmd.AddCommand(batchCmd)
}

func batchCommand(cmd *cobra.Command, args []string) error {
	dir := args[0]
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	var targets []scanner.BatchTarget
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".dll") {
			continue
		}
		targets = append(targets, scanner.BatchTarget{Path: filepath.Join(dir, e.Name()), Role: ilmodel.RoleMod})
	}
	if len(targets) == 0 {
		return fmt.Errorf("no .dll files found under %s", dir)
	}

	cfg, err := config.Load(rulePackDir, logPath, cachePath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sink, err := logger.NewFileSink(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer sink.Close()

	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	guidance := guidanceMap(reg)

	start := time.Now()
	batch, err := scanner.ScanBatch(targets, scanOptionsFromConfig(cfg), crossasm.Policy(batchPolicy), sink)
	metricsCollectors.ScanDuration.Observe(time.Since(start).Seconds())
	metricsCollectors.ScansTotal.Add(float64(len(targets)))
	if err != nil {
		metricsCollectors.ScanErrorsTotal.WithLabelValues(scanErrorKind(err)).Inc()
		return err
	}
	for _, res := range batch.PerAssembly {
		for _, f := range res.Findings {
			metricsCollectors.FindingsBySeverity.WithLabelValues(f.Severity.String()).Inc()
		}
	}

	for path, res := range batch.PerAssembly {
		meta := findingdto.Metadata{CoreVersion: Version, PlatformVersion: "clr", Timestamp: time.Now().UTC(), ScanMode: "batch", Platform: "dotnet"}
		input := findingdto.Input{FileName: path, SizeBytes: res.Assembly.SizeBytes, SHA256Hash: res.Assembly.SHA256}
		doc := findingdto.Build(meta, input, res.Findings, guidance)
		if err := printJSON(doc); err != nil {
			return err
		}
	}

	if len(batch.CrossAssemblyFindings) > 0 {
		meta := findingdto.Metadata{CoreVersion: Version, PlatformVersion: "clr", Timestamp: time.Now().UTC(), ScanMode: "cross-assembly", Platform: "dotnet"}
		doc := findingdto.Build(meta, findingdto.Input{FileName: dir}, batch.CrossAssemblyFindings, guidance)
		if err := printJSON(doc); err != nil {
			return err
		}
	}
	return nil
}
