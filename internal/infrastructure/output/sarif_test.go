package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/exthost/internal/application/services"
	"github.com/reglet-dev/exthost/internal/domain/budget"
)

func TestSARIFFormatter_Format(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	formatter := NewSARIFFormatter(&buf, "1.0.0")
	err := formatter.Format(createScanReport())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))

	assert.Equal(t, "2.1.0", raw["version"])
	assert.Contains(t, raw, "$schema")

	runs := raw["runs"].([]interface{})
	require.Len(t, runs, 1)

	run := runs[0].(map[string]interface{})
	assert.Contains(t, run, "tool")
	assert.Contains(t, run, "results")
	assert.Contains(t, run, "invocations")
}

func TestSARIFFormatter_ValidatesAgainstSchema(t *testing.T) {
	t.Parallel()
	report := formatToReport(t, createScanReport())

	require.NoError(t, report.Validate())
}

func TestSARIFFormatter_ToolMetadata(t *testing.T) {
	t.Parallel()
	report := formatToReport(t, createScanReport())
	require.Len(t, report.Runs, 1)

	tool := report.Runs[0].Tool
	assert.Equal(t, "exthost", *tool.Driver.Name)
	assert.Equal(t, "1.2.3", *tool.Driver.Version)
	assert.Equal(t, "https://github.com/reglet-dev/exthost", *tool.Driver.InformationURI)

	ids := make([]string, 0, len(tool.Driver.Rules))
	for _, r := range tool.Driver.Rules {
		ids = append(ids, *r.ID)
	}
	assert.Equal(t, ruleIDs(), ids)
	assert.Contains(t, ids, services.DiagnosticManifestInvalid)
}

func TestSARIFFormatter_RiskLevelMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		pattern   string
		risk      string
		wantLevel string
	}{
		{"safe repair", "dist_to_src", "safe", "warning"},
		{"aggressive repair", "monorepo_escape", "aggressive", "error"},
		{"unrecognized", services.DiagnosticUnrecognized, "", "error"},
		{"manifest invalid", services.DiagnosticManifestInvalid, "", "error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report := formatToReport(t, services.RepairScanReport{
				GeneratedAt: time.Now(),
				Mode:        "auto-safe",
				Extensions:  1,
				Diagnostics: []services.RepairDiagnostic{{
					Extension: "demo",
					Root:      "/exts/demo",
					Pattern:   tc.pattern,
					Risk:      tc.risk,
					Message:   "test message",
				}},
			})
			require.Len(t, report.Runs[0].Results, 1)

			res := report.Runs[0].Results[0]
			assert.Equal(t, tc.pattern, *res.RuleID)
			assert.Equal(t, tc.wantLevel, res.Level, "level mismatch")
			assert.Equal(t, "fail", res.Kind)
		})
	}
}

func TestSARIFMapper_Location(t *testing.T) {
	t.Parallel()
	cwd, err := os.Getwd()
	require.NoError(t, err)

	report := formatToReport(t, services.RepairScanReport{
		GeneratedAt: time.Now(),
		Mode:        "auto-safe",
		Diagnostics: []services.RepairDiagnostic{{
			Extension: "demo",
			Root:      filepath.Join(cwd, "exts", "demo"),
			File:      "src/index.ts",
			Line:      7,
			Pattern:   "dist_to_src",
			Risk:      "safe",
			Message:   "cannot resolve",
		}},
	})

	res := report.Runs[0].Results[0]
	require.Len(t, res.Locations, 1)
	loc := res.Locations[0]
	assert.Equal(t, "exts/demo/src/index.ts", *loc.PhysicalLocation.ArtifactLocation.URI)
	require.NotNil(t, loc.PhysicalLocation.Region)
	assert.Equal(t, 7, *loc.PhysicalLocation.Region.StartLine)
}

func TestSARIFMapper_NoLocationWithoutFile(t *testing.T) {
	t.Parallel()
	report := formatToReport(t, services.RepairScanReport{
		GeneratedAt: time.Now(),
		Diagnostics: []services.RepairDiagnostic{{
			Extension: "ghost",
			Root:      "/exts/ghost",
			Pattern:   services.DiagnosticManifestInvalid,
			Message:   "no manifest",
		}},
	})

	assert.Empty(t, report.Runs[0].Results[0].Locations)
}

func TestSARIFMapper_PropertiesPreservation(t *testing.T) {
	t.Parallel()
	report := formatToReport(t, createScanReport())

	var escape *sarif.Result
	for _, r := range report.Runs[0].Results {
		if *r.RuleID == "monorepo_escape" {
			escape = r
		}
	}
	require.NotNil(t, escape)

	props := escape.Properties.Properties
	assert.Equal(t, "demo", props["extension"])
	assert.Equal(t, false, props["repairable"])
	assert.Equal(t, "../shared/index.js", props["specifier"])
	assert.Equal(t, "aggressive", props["risk"])
	assert.Contains(t, *escape.Message.Text, "repair: stub")
}

func TestSARIFFormatter_RejectsOtherReports(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	err := NewSARIFFormatter(&buf, "").Format(budget.Report{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repair scan reports only")
	assert.Empty(t, buf.String())
}

func TestSARIFMapper_EmptyResults(t *testing.T) {
	t.Parallel()
	report := formatToReport(t, services.RepairScanReport{GeneratedAt: time.Now(), Diagnostics: []services.RepairDiagnostic{}})

	assert.Empty(t, report.Runs[0].Results)
	require.NoError(t, report.Validate())
}

// Helper to format a scan report and parse it back
func formatToReport(t *testing.T, scan services.RepairScanReport) *sarif.Report {
	t.Helper()
	var buf bytes.Buffer
	err := NewSARIFFormatter(&buf, "1.2.3").Format(&scan)
	require.NoError(t, err)

	report, err := sarif.FromBytes(buf.Bytes())
	require.NoError(t, err)
	return report
}

func createScanReport() services.RepairScanReport {
	return services.RepairScanReport{
		GeneratedAt: time.Now().Add(-time.Second),
		Mode:        "auto-safe",
		Extensions:  2,
		Diagnostics: []services.RepairDiagnostic{
			{
				Extension:  "demo",
				Root:       "/exts/demo",
				File:       "index.ts",
				Line:       1,
				Specifier:  "./dist/helper.js",
				Pattern:    "dist_to_src",
				Risk:       "safe",
				Message:    `Cannot find module "./dist/helper.js"`,
				Suggestion: "rewrite ./dist/helper.js to ./src/helper.ts",
				Repairable: true,
			},
			{
				Extension:  "demo",
				Root:       "/exts/demo",
				File:       "index.ts",
				Line:       2,
				Specifier:  "../shared/index.js",
				Pattern:    "monorepo_escape",
				Risk:       "aggressive",
				Message:    `Cannot find module "../shared/index.js"`,
				Suggestion: "stub ../shared/index.js",
			},
			{
				Extension: "ghost",
				Root:      "/exts/ghost",
				Pattern:   services.DiagnosticManifestInvalid,
				Message:   "no manifest in /exts/ghost",
			},
		},
	}
}
