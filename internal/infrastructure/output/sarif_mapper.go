package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"

	"github.com/reglet-dev/exthost/internal/application/services"
	"github.com/reglet-dev/exthost/internal/domain/repair"
)

var ruleDescriptions = map[string]string{
	repair.DistToSrc.String():             "Import of built output that resolves to its source file",
	repair.MissingAsset.String():          "Referenced static asset is absent",
	repair.MonorepoEscape.String():        "Import reaches outside the extension root",
	repair.MissingNpmDep.String():         "External package is not installed",
	repair.ExportShape.String():           "Activation function exported under a non-canonical shape",
	repair.ManifestNormalization.String(): "Manifest is not in canonical form",
	services.DiagnosticUnrecognized:       "Load failure that no repair pattern recognises",
	services.DiagnosticManifestInvalid:    "Manifest is missing or invalid",
}

type sarifMapper struct {
	report services.RepairScanReport
	cwd    string
}

func newSARIFMapper(report services.RepairScanReport) *sarifMapper {
	cwd, _ := os.Getwd() // Best effort, ignore error
	return &sarifMapper{
		report: report,
		cwd:    cwd,
	}
}

// mapToRun populates the SARIF run with rules, results, the invocation and
// summary properties.
func (m *sarifMapper) mapToRun(run *sarif.Run) {
	m.addRules(run)
	m.addResults(run)
	m.addInvocation(run)
	m.addProperties(run)
}

// ruleIDs lists every repair pattern, then the non-repair diagnostics.
func ruleIDs() []string {
	ids := make([]string, 0, len(repair.AllPatterns())+2)
	for _, p := range repair.AllPatterns() {
		ids = append(ids, p.String())
	}
	return append(ids, services.DiagnosticUnrecognized, services.DiagnosticManifestInvalid)
}

func (m *sarifMapper) addRules(run *sarif.Run) {
	for _, id := range ruleIDs() {
		desc := ruleDescriptions[id]
		rule := sarif.NewReportingDescriptor().WithID(id)
		rule.WithName(id)
		rule.WithShortDescription(&sarif.MultiformatMessageString{Text: &desc})

		props := sarif.NewPropertyBag()
		level := "error"
		if p, err := repair.ParsePattern(id); err == nil {
			level = riskLevel(p.Risk().String())
			props.Add("risk", p.Risk().String())
		}
		rule.WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: level})
		rule.WithProperties(props)

		run.Tool.Driver.AddRule(rule)
	}
}

func (m *sarifMapper) addResults(run *sarif.Run) {
	for _, d := range m.report.Diagnostics {
		run.AddResult(m.mapDiagnostic(d))
	}
}

func (m *sarifMapper) mapDiagnostic(d services.RepairDiagnostic) *sarif.Result {
	result := sarif.NewRuleResult(d.Pattern)
	result.Level = riskLevel(d.Risk)
	result.Kind = "fail"

	msg := fmt.Sprintf("%s: %s", d.Extension, d.Message)
	if d.Suggestion != "" {
		msg += " (repair: " + d.Suggestion + ")"
	}
	result.Message = sarif.NewTextMessage(msg)

	if loc := m.location(d); loc != nil {
		result.Locations = []*sarif.Location{loc}
	}

	props := sarif.NewPropertyBag()
	props.Add("extension", d.Extension)
	props.Add("repairable", d.Repairable)
	if d.Specifier != "" {
		props.Add("specifier", d.Specifier)
	}
	if d.Risk != "" {
		props.Add("risk", d.Risk)
	}
	if d.Suggestion != "" {
		props.Add("suggestion", d.Suggestion)
	}
	result.WithProperties(props)

	return result
}

// riskLevel maps a diagnostic risk to a SARIF level. Diagnostics with no
// repair are errors since the extension will not load.
func riskLevel(risk string) string {
	if risk == repair.Safe.String() {
		return "warning"
	}
	return "error"
}

func (m *sarifMapper) location(d services.RepairDiagnostic) *sarif.Location {
	if d.File == "" {
		return nil
	}
	path := d.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.Root, filepath.FromSlash(path))
	}

	pLoc := sarif.NewPhysicalLocation().
		WithArtifactLocation(sarif.NewArtifactLocation().WithURI(m.normalizeURI(path)))
	if d.Line > 0 {
		pLoc.WithRegion(sarif.NewRegion().WithStartLine(d.Line))
	}
	return sarif.NewLocation().WithPhysicalLocation(pLoc)
}

// normalizeURI converts a file path to a SARIF-compliant URI.
func (m *sarifMapper) normalizeURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	if m.cwd != "" {
		if rel, err := filepath.Rel(m.cwd, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}

	return "file://" + filepath.ToSlash(abs)
}

func (m *sarifMapper) addInvocation(run *sarif.Run) {
	invocation := sarif.NewInvocation()

	// The scan succeeded if it ran; diagnostics are findings, not failures.
	invocation.ExecutionSuccessful = ptrBool(true)

	start := m.report.GeneratedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	invocation.StartTimeUtc = &start

	if hostname, err := os.Hostname(); err == nil {
		invocation.Machine = &hostname
	}

	if m.cwd != "" {
		cwd := "file://" + filepath.ToSlash(m.cwd)
		invocation.WorkingDirectory = sarif.NewArtifactLocation().WithURI(cwd)
	}

	props := sarif.NewPropertyBag()
	props.Add("repairMode", m.report.Mode)
	props.Add("extensions", m.report.Extensions)
	invocation.WithProperties(props)

	run.AddInvocation(invocation)
}

func (m *sarifMapper) addProperties(run *sarif.Run) {
	repairable := 0
	for _, d := range m.report.Diagnostics {
		if d.Repairable {
			repairable++
		}
	}
	props := sarif.NewPropertyBag()
	props.Add("diagnostics", len(m.report.Diagnostics))
	props.Add("repairable", repairable)
	run.WithProperties(props)
}

func ptrBool(b bool) *bool {
	return &b
}
