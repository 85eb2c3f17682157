// Package output provides formatters for exthost reports.
package output

import (
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"

	"github.com/reglet-dev/exthost/internal/application/services"
)

// SARIFFormatter formats repair scan reports as SARIF 2.1.0 JSON.
// Each diagnostic kind becomes a rule and each diagnostic a result located
// at the offending import.
//
// Usage:
//
//	formatter := output.NewSARIFFormatter(os.Stdout, version.Get().Version)
//	if err := formatter.Format(report); err != nil {
//	    log.Fatal(err)
//	}
type SARIFFormatter struct {
	writer      io.Writer
	toolVersion string
}

// NewSARIFFormatter creates a new SARIF formatter.
func NewSARIFFormatter(writer io.Writer, toolVersion string) *SARIFFormatter {
	if toolVersion == "" {
		toolVersion = "dev"
	}
	return &SARIFFormatter{
		writer:      writer,
		toolVersion: toolVersion,
	}
}

// Format writes the report as SARIF. Only repair scan reports have a SARIF
// shape; any other value is an error.
func (f *SARIFFormatter) Format(v any) error {
	var scan services.RepairScanReport
	switch r := v.(type) {
	case services.RepairScanReport:
		scan = r
	case *services.RepairScanReport:
		if r == nil {
			return fmt.Errorf("sarif: nil report")
		}
		scan = *r
	default:
		return fmt.Errorf("sarif output supports repair scan reports only, got %T", v)
	}

	report := sarif.NewReport()

	run := sarif.NewRunWithInformationURI("exthost", "https://github.com/reglet-dev/exthost")
	run.Tool.Driver.Version = &f.toolVersion
	run.Tool.Driver.Organization = ptrString("Reglet")

	newSARIFMapper(scan).mapToRun(run)
	report.AddRun(run)

	if err := report.Write(f.writer); err != nil {
		return fmt.Errorf("failed to write SARIF output: %w", err)
	}

	_, err := f.writer.Write([]byte("\n"))
	return err
}

func ptrString(s string) *string {
	return &s
}
