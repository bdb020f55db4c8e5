package coverage

import (
	"encoding/xml"
	"fmt"
	"os"
)

// Cobertura XML as written by `coverage xml`. Only the attributes the
// harness reads are mapped; everything else is ignored on decode.
type CoberturaReport struct {
	XMLName  xml.Name `xml:"coverage"`
	LineRate float64  `xml:"line-rate,attr"`
	Lines    int      `xml:"lines-valid,attr"`
	Covered  int      `xml:"lines-covered,attr"`
	Packages []struct {
		Name     string  `xml:"name,attr"`
		LineRate float64 `xml:"line-rate,attr"`
		Classes  []struct {
			Name     string  `xml:"name,attr"`
			Filename string  `xml:"filename,attr"`
			LineRate float64 `xml:"line-rate,attr"`
		} `xml:"classes>class"`
	} `xml:"packages>package"`
}

// Percent returns the overall line rate as a whole percentage.
func (r *CoberturaReport) Percent() int {
	return int(r.LineRate*100 + 0.5)
}

// ParseCobertura reads and decodes a Cobertura XML report.
func ParseCobertura(path string) (*CoberturaReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading coverage XML %s: %w", path, err)
	}
	var report CoberturaReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing coverage XML %s: %w", path, err)
	}
	return &report, nil
}
