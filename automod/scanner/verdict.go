package scanner

import (
	"fmt"
	"strings"
)

const (
	CodeSecurityBlocked = "SECURITY_BLOCKED"
	maxBlockedFindings  = 5
)

// SecurityError is returned when a scan blocks publication. The current publish attempt must not proceed.
type SecurityError struct {
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	Findings      []string `json:"findings"`
	FindingsCount int      `json:"findingsCount"`
	CriticalCount int      `json:"criticalCount"`
	HighCount     int      `json:"highCount"`
}

func (e *SecurityError) Error() string {
	return e.Message
}

// Maps a scan result to moderation flags. A blocked verdict returns a *SecurityError; a flagged verdict returns the rule ID of every finding; a clean verdict returns no flags.
//
// Verdicts the scanner does not document are re-derived from the findings.
func HandleScanResult(result *ScanResult) ([]string, error) {
	if result == nil {
		return nil, newSecurityError(UnavailableResult(timeNow()))
	}

	verdict := result.Verdict
	switch verdict {
	case VerdictBlocked, VerdictFlagged, VerdictClean:
	default:
		verdict = VerdictFromFindings(result.Findings)
	}

	switch verdict {
	case VerdictBlocked:
		return nil, newSecurityError(result)
	case VerdictFlagged:
		flags := make([]string, 0, len(result.Findings))
		for _, f := range result.Findings {
			flags = append(flags, f.RuleID)
		}
		return flags, nil
	default:
		return []string{}, nil
	}
}

func newSecurityError(result *ScanResult) *SecurityError {
	lines := []string{}
	for _, f := range result.Findings {
		if f.Severity != SeverityCritical && f.Severity != SeverityHigh {
			continue
		}
		if len(lines) >= maxBlockedFindings {
			break
		}
		line := f.Message
		if f.FilePath != "" {
			line = fmt.Sprintf("%s (%s)", f.Message, f.FilePath)
		}
		lines = append(lines, line)
	}

	summary := result.Summary
	if summary.Total == 0 && len(result.Findings) > 0 {
		summary = Summarize(result.Findings)
	}

	var sb strings.Builder
	sb.WriteString("Skill blocked due to security findings:")
	for _, l := range lines {
		sb.WriteString("\n• ")
		sb.WriteString(l)
	}

	return &SecurityError{
		Code:          CodeSecurityBlocked,
		Message:       sb.String(),
		Findings:      lines,
		FindingsCount: len(result.Findings),
		CriticalCount: summary.Critical,
		HighCount:     summary.High,
	}
}
