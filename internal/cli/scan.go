package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/diffsec/clrsentry/internal/config"
	"github.com/diffsec/clrsentry/internal/findingdto"
	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/logger"
	"github.com/diffsec/clrsentry/internal/metrics"
	"github.com/diffsec/clrsentry/internal/rulepack"
	"github.com/diffsec/clrsentry/internal/rules"
	"github.com/diffsec/clrsentry/internal/scanerr"
	"github.com/diffsec/clrsentry/internal/scanner"
	"github.com/diffsec/clrsentry/internal/taxonomy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// metricsCollectors is registered once against the default registry so
// `clrsentry serve-metrics` can expose counters updated by `scan`/`scan-batch`
// run earlier in the same process (e.g. under a long-lived embedding).
var metricsCollectors = metrics.New(prometheus.DefaultRegisterer)

var developerMode bool

var scanCmd = &cobra.Command{
	Use:   "scan <assembly-path>",
	Short: "Scan a single .NET assembly for malicious patterns",
	Long: `Statically analyze one compiled .NET assembly and print its findings as
a ScanResult JSON document (spec.md §6).

  clrsentry scan MyMod.dll`,
	Args: cobra.ExactArgs(1),
	RunE: scanCommand,
}

func init() {
	scanCmd.Flags().BoolVar(&developerMode, "developer-mode", false, "Enable deep-behavior analysis and diagnostic findings")
	rootCmd.AddCommand(scanCmd)
}

func loadRegistry(cfg *config.Config) (*rules.Registry, error) {
	reg := rules.DefaultRegistry(cfg.Options.MinimumEncodedStringLength)
	overrides, _, err := rulepack.LoadDir(cfg.RulePackDir)
	if err != nil {
		return nil, fmt.Errorf("load rule packs: %w", err)
	}
	if len(overrides) > 0 {
		reg = reg.WithOverrides(overrides)
	}
	return reg, nil
}

func guidanceMap(reg *rules.Registry) map[string]findingdto.Guidance {
	out := make(map[string]findingdto.Guidance)
	for _, r := range reg.Rules() {
		if r.Guidance == nil {
			continue
		}
		g := findingdto.Guidance{
			RuleID:          r.ID,
			Remediation:     r.Guidance.Remediation,
			DocURL:          r.Guidance.DocURL,
			AlternativeAPIs: r.Guidance.AlternativeAPIs,
			IsRemediable:    r.Guidance.IsRemediable,
		}
		if entry, ok := taxonomy.Lookup(r.ID); ok {
			g.MitreAttack = entry.MitreAttack
			g.CWE = entry.CWE
		}
		out[r.ID] = g
	}
	return out
}

func scanOptionsFromConfig(cfg *config.Config) scanner.Options {
	opts := scanner.DefaultOptions()
	opts.AnalyzeExceptionHandlers = cfg.Options.AnalyzeExceptionHandlers
	opts.AnalyzeLocalVariables = cfg.Options.AnalyzeLocalVariables
	opts.MinimumEncodedStringLength = cfg.Options.MinimumEncodedStringLength
	opts.DeepAnalysis = cfg.Options.DeepAnalysis
	if developerMode {
		opts.DeepAnalysis.EnableDeepAnalysis = true
		opts.DeepAnalysis.EmitDiagnosticFindings = true
	}
	return opts
}

func scanCommand(cmd *cobra.Command, args []string) error {
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

	path := args[0]
	start := time.Now()
	res, err := scanner.ScanFile(path, scanOptionsFromConfig(cfg), sink)
	metricsCollectors.ScanDuration.Observe(time.Since(start).Seconds())
	metricsCollectors.ScansTotal.Inc()
	if err != nil {
		metricsCollectors.ScanErrorsTotal.WithLabelValues(scanErrorKind(err)).Inc()
		return renderScanError(path, err)
	}
	for _, f := range res.Findings {
		metricsCollectors.FindingsBySeverity.WithLabelValues(f.Severity.String()).Inc()
	}

	meta := findingdto.Metadata{
		CoreVersion:     Version,
		PlatformVersion: "clr",
		Timestamp:       time.Now().UTC(),
		ScanMode:        "single",
		Platform:        "dotnet",
	}
	input := findingdto.Input{
		FileName:   path,
		SizeBytes:  res.Assembly.SizeBytes,
		SHA256Hash: res.Assembly.SHA256,
	}
	doc := findingdto.Build(meta, input, res.Findings, guidanceMap(reg))
	return printJSON(doc)
}

// renderScanError maps any error ScanFile returns (an InputError or an
// InvariantBreach) to a synthetic ScanError finding, rather than failing the
// CLI invocation outright.
func renderScanError(path string, scanErr error) error {
	meta := findingdto.Metadata{CoreVersion: Version, PlatformVersion: "clr", Timestamp: time.Now().UTC(), ScanMode: "single", Platform: "dotnet"}
	input := findingdto.Input{FileName: path}
	findings := []ilmodel.ScanFinding{{
		Location:    path,
		Description: scanErr.Error(),
		Severity:    ilmodel.SeverityLow,
		RuleID:      "ScanError",
	}}
	doc := findingdto.Build(meta, input, findings, nil)
	return printJSON(doc)
}

func scanErrorKind(err error) string {
	var se *scanerr.ScanError
	if errors.As(err, &se) {
		return se.Kind.String()
	}
	return "Unknown"
}

func printJSON(doc findingdto.ScanResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
