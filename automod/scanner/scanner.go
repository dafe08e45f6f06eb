// Client and verdict handling for the external skill security scanner.
//
// The scan path fails closed: any error talking to the scanner results in a synthesized "blocked" verdict, never a publish.
package scanner

import (
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

type Verdict string

const (
	VerdictClean   Verdict = "clean"
	VerdictFlagged Verdict = "flagged"
	VerdictBlocked Verdict = "blocked"
)

type Finding struct {
	RuleID     string         `json:"rule_id"`
	Engine     string         `json:"engine"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	FilePath   string         `json:"file_path,omitempty"`
	LineNumber int            `json:"line_number,omitempty"`
	Evidence   string         `json:"evidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Total    int `json:"total"`
}

type ScanResult struct {
	Verdict        Verdict   `json:"verdict"`
	Findings       []Finding `json:"findings"`
	ScannedAt      string    `json:"scanned_at"`
	DurationMs     int64     `json:"duration_ms"`
	FilesScanned   int       `json:"files_scanned"`
	ScannerVersion string    `json:"scanner_version"`
	Summary        Summary   `json:"summary"`
}

const (
	RuleScannerUnavailable = "scanner/unavailable"
	unavailableMessage     = "Security scanner unavailable - upload blocked for safety"
)

// Result returned in place of a real scan whenever the scanner could not be used.
func UnavailableResult(now time.Time) *ScanResult {
	return &ScanResult{
		Verdict: VerdictBlocked,
		Findings: []Finding{
			{
				RuleID:   RuleScannerUnavailable,
				Engine:   "system",
				Severity: SeverityCritical,
				Message:  unavailableMessage,
			},
		},
		ScannedAt:      now.UTC().Format(time.RFC3339Nano),
		DurationMs:     0,
		FilesScanned:   0,
		ScannerVersion: "error",
		Summary:        Summary{Critical: 1, High: 0, Total: 1},
	}
}

func Summarize(findings []Finding) Summary {
	s := Summary{Total: len(findings)}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		}
	}
	return s
}

// Any critical finding blocks; otherwise any high finding flags.
func VerdictFromFindings(findings []Finding) Verdict {
	s := Summarize(findings)
	if s.Critical > 0 {
		return VerdictBlocked
	}
	if s.High > 0 {
		return VerdictFlagged
	}
	return VerdictClean
}
