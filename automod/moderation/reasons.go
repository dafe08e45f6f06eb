// Static moderation checks over skill bundles: a rule-based scan of file contents producing reason codes and a verdict, plus the coarse moderation flags derived at publish time.
package moderation

import (
	"fmt"
	"sort"
	"strings"
)

type Verdict string

const (
	VerdictClean      Verdict = "clean"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// bumped whenever rules change, so stored results can be re-evaluated
const EngineVersion = "v2.0.0"

// Reason codes are "<verdict>.<detail>"; anything under "malicious." makes the whole result malicious.
const (
	ReasonDangerousExec          = "suspicious.dangerous_exec"
	ReasonDynamicCode            = "suspicious.dynamic_code_execution"
	ReasonCredentialHarvest      = "malicious.env_harvesting"
	ReasonExfiltration           = "suspicious.potential_exfiltration"
	ReasonObfuscatedCode         = "suspicious.obfuscated_code"
	ReasonSuspiciousNetwork      = "suspicious.nonstandard_network"
	ReasonCryptoMining           = "malicious.crypto_mining"
	ReasonInjectionInstructions  = "suspicious.prompt_injection_instructions"
	ReasonInstallUntrustedSource = "suspicious.install_untrusted_source"
	ReasonPrivilegedAlways       = "suspicious.privileged_always"
	ReasonKnownBlockedSignature  = "malicious.known_blocked_signature"
)

// Legacy skill-level moderation flags
const (
	FlagBlockedMalware    = "blocked.malware"
	FlagFlaggedSuspicious = "flagged.suspicious"
)

type Finding struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
	Evidence string   `json:"evidence"`
}

// Deduplicates, drops empty codes and sorts.
func NormalizeReasonCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := []string{}
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func SummarizeReasonCodes(codes []string) string {
	if len(codes) == 0 {
		return "No suspicious patterns detected."
	}
	n := min(len(codes), 3)
	s := "Detected: " + strings.Join(codes[:n], ", ")
	if len(codes) > 3 {
		s += fmt.Sprintf(" (+%d more)", len(codes)-3)
	}
	return s
}

func VerdictFromCodes(codes []string) Verdict {
	norm := NormalizeReasonCodes(codes)
	for _, c := range norm {
		if strings.HasPrefix(c, "malicious.") {
			return VerdictMalicious
		}
	}
	if len(norm) > 0 {
		return VerdictSuspicious
	}
	return VerdictClean
}

// Returns nil for clean.
func LegacyFlags(v Verdict) []string {
	switch v {
	case VerdictMalicious:
		return []string{FlagBlockedMalware}
	case VerdictSuspicious:
		return []string{FlagFlaggedSuspicious}
	}
	return nil
}
