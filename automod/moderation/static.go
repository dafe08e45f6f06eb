package moderation

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	manifestExt = regexp.MustCompile(`(?i)\.(json|yaml|yml|toml)$`)
	markdownExt = regexp.MustCompile(`(?i)\.(md|markdown|mdx)$`)
	codeExt     = regexp.MustCompile(`(?i)\.(js|ts|mjs|cjs|mts|cts|jsx|tsx|py|sh|bash|zsh|rb|go)$`)

	childProcessRe   = regexp.MustCompile(`child_process`)
	execCallRe       = regexp.MustCompile(`\b(exec|execSync|spawn|spawnSync|execFile|execFileSync)\s*\(`)
	dynamicCodeRe    = regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(`)
	miningRe         = regexp.MustCompile(`(?i)stratum\+tcp|stratum\+ssl|coinhive|cryptonight|xmrig`)
	wsPortRe         = regexp.MustCompile(`new\s+WebSocket\s*\(\s*["']wss?://[^"']*:(\d+)`)
	wsCallRe         = regexp.MustCompile(`new\s+WebSocket\s*\(`)
	fileReadRe       = regexp.MustCompile(`readFileSync|readFile`)
	networkSendRe    = regexp.MustCompile(`\bfetch\b|http\.request|\baxios\b`)
	processEnvRe     = regexp.MustCompile(`process\.env`)
	hexEscapesRe     = regexp.MustCompile(`(\\x[0-9a-fA-F]{2}){6,}`)
	base64PayloadRe  = regexp.MustCompile(`(?:atob|Buffer\.from)\s*\(\s*["'][A-Za-z0-9+/=]{200,}["']`)
	obfuscatedLineRe = regexp.MustCompile(`(\\x[0-9a-fA-F]{2}){6,}|(?:atob|Buffer\.from)\s*\(`)
	injectionRe      = regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions|system\s*prompt\s*[:=]|you\s+are\s+now\s+(a|an)\b`)

	shortenerURLRe     = regexp.MustCompile(`(?i)https?://(bit\.ly|tinyurl\.com|t\.co|goo\.gl|is\.gd)/`)
	rawIPURLRe         = regexp.MustCompile(`(?i)https?://\d{1,3}(?:\.\d{1,3}){3}`)
	untrustedSourceRe  = regexp.MustCompile(`(?i)https?://(bit\.ly|tinyurl\.com|t\.co|goo\.gl|is\.gd)/|https?://\d{1,3}(?:\.\d{1,3}){3}`)
	blockedSignatureRe = regexp.MustCompile(`(?i)keepcold131/ClawdAuthenticatorTool|ClawdAuthenticatorTool`)
	scriptPipeRe       = regexp.MustCompile(`(?i)curl[^\n]+\|\s*(sh|bash)`)
)

var standardPorts = map[int]bool{80: true, 443: true, 8080: true, 8443: true, 3000: true}

const maxEvidenceLen = 160

type TextFile struct {
	Path    string
	Content string
}

type StaticScanInput struct {
	Slug        string
	DisplayName string
	Summary     string
	Frontmatter map[string]any
	Metadata    map[string]any
	Files       []TextFile
}

type StaticScanResult struct {
	Verdict       Verdict   `json:"verdict"`
	ReasonCodes   []string  `json:"reasonCodes"`
	Findings      []Finding `json:"findings"`
	Summary       string    `json:"summary"`
	EngineVersion string    `json:"engineVersion"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// Whether StaticScan looks at the contents of a file with this path at all.
func ScansPath(path string) bool {
	return codeExt.MatchString(path) || markdownExt.MatchString(path) || manifestExt.MatchString(path)
}

// Runs every rule over the supplied file contents and skill metadata. Output is deterministic for a given input, apart from CheckedAt.
func StaticScan(in StaticScanInput, now time.Time) *StaticScanResult {
	findings := []Finding{}
	files := append([]TextFile(nil), in.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	for _, f := range files {
		findings = scanCodeFile(f.Path, f.Content, findings)
		findings = scanMarkdownFile(f.Path, f.Content, findings)
		findings = scanManifestFile(f.Path, f.Content, findings)
	}

	installJSON := jsonText(in.Metadata)
	if shortenerURLRe.MatchString(installJSON) {
		findings = addFinding(findings, Finding{
			Code:     ReasonInstallUntrustedSource,
			Severity: SeverityWarn,
			File:     "metadata",
			Line:     1,
			Message:  "Install metadata references shortener URL.",
			Evidence: installJSON,
		})
	}

	if isAlways(in.Frontmatter) {
		findings = addFinding(findings, Finding{
			Code:     ReasonPrivilegedAlways,
			Severity: SeverityWarn,
			File:     "SKILL.md",
			Line:     1,
			Message:  "Skill is configured with always=true (persistent invocation).",
			Evidence: "always: true",
		})
	}

	identity := in.Slug + "\n" + in.DisplayName + "\n" + in.Summary
	if blockedSignatureRe.MatchString(identity) {
		findings = addFinding(findings, Finding{
			Code:     ReasonKnownBlockedSignature,
			Severity: SeverityCritical,
			File:     "metadata",
			Line:     1,
			Message:  "Matched a known blocked malware signature.",
			Evidence: identity,
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findingKey(findings[i]) < findingKey(findings[j])
	})

	codes := make([]string, 0, len(findings))
	for _, f := range findings {
		codes = append(codes, f.Code)
	}
	codes = NormalizeReasonCodes(codes)
	return &StaticScanResult{
		Verdict:       VerdictFromCodes(codes),
		ReasonCodes:   codes,
		Findings:      findings,
		Summary:       SummarizeReasonCodes(codes),
		EngineVersion: EngineVersion,
		CheckedAt:     now,
	}
}

func scanCodeFile(path, content string, findings []Finding) []Finding {
	if !codeExt.MatchString(path) {
		return findings
	}

	if childProcessRe.MatchString(content) {
		if line, text, ok := findFirstLine(content, execCallRe); ok {
			findings = addFinding(findings, Finding{
				Code:     ReasonDangerousExec,
				Severity: SeverityCritical,
				File:     path,
				Line:     line,
				Message:  "Shell command execution detected (child_process).",
				Evidence: text,
			})
		}
	}

	if line, text, ok := findFirstLine(content, dynamicCodeRe); ok {
		findings = addFinding(findings, Finding{
			Code:     ReasonDynamicCode,
			Severity: SeverityCritical,
			File:     path,
			Line:     line,
			Message:  "Dynamic code execution detected.",
			Evidence: text,
		})
	}

	if miningRe.MatchString(content) {
		line, text, _ := findFirstLine(content, miningRe)
		findings = addFinding(findings, Finding{
			Code:     ReasonCryptoMining,
			Severity: SeverityCritical,
			File:     path,
			Line:     line,
			Message:  "Possible crypto mining behavior detected.",
			Evidence: text,
		})
	}

	if m := wsPortRe.FindStringSubmatch(content); m != nil {
		port, err := strconv.Atoi(m[1])
		if err == nil && !standardPorts[port] {
			line, text, _ := findFirstLine(content, wsCallRe)
			findings = addFinding(findings, Finding{
				Code:     ReasonSuspiciousNetwork,
				Severity: SeverityWarn,
				File:     path,
				Line:     line,
				Message:  "WebSocket connection to non-standard port detected.",
				Evidence: text,
			})
		}
	}

	sendsNetwork := networkSendRe.MatchString(content)
	if sendsNetwork && fileReadRe.MatchString(content) {
		line, text, _ := findFirstLine(content, fileReadRe)
		findings = addFinding(findings, Finding{
			Code:     ReasonExfiltration,
			Severity: SeverityWarn,
			File:     path,
			Line:     line,
			Message:  "File read combined with network send (possible exfiltration).",
			Evidence: text,
		})
	}
	if sendsNetwork && processEnvRe.MatchString(content) {
		line, text, _ := findFirstLine(content, processEnvRe)
		findings = addFinding(findings, Finding{
			Code:     ReasonCredentialHarvest,
			Severity: SeverityCritical,
			File:     path,
			Line:     line,
			Message:  "Environment variable access combined with network send.",
			Evidence: text,
		})
	}

	if hexEscapesRe.MatchString(content) || base64PayloadRe.MatchString(content) {
		line, text, _ := findFirstLine(content, obfuscatedLineRe)
		findings = addFinding(findings, Finding{
			Code:     ReasonObfuscatedCode,
			Severity: SeverityWarn,
			File:     path,
			Line:     line,
			Message:  "Potential obfuscated payload detected.",
			Evidence: text,
		})
	}
	return findings
}

func scanMarkdownFile(path, content string, findings []Finding) []Finding {
	if !markdownExt.MatchString(path) {
		return findings
	}
	if line, text, ok := findFirstLine(content, injectionRe); ok {
		findings = addFinding(findings, Finding{
			Code:     ReasonInjectionInstructions,
			Severity: SeverityWarn,
			File:     path,
			Line:     line,
			Message:  "Prompt-injection style instruction pattern detected.",
			Evidence: text,
		})
	}
	return findings
}

func scanManifestFile(path, content string, findings []Finding) []Finding {
	if !manifestExt.MatchString(path) {
		return findings
	}
	if line, text, ok := findFirstLine(content, untrustedSourceRe); ok {
		findings = addFinding(findings, Finding{
			Code:     ReasonInstallUntrustedSource,
			Severity: SeverityWarn,
			File:     path,
			Line:     line,
			Message:  "Install source points to URL shortener or raw IP.",
			Evidence: text,
		})
	}
	return findings
}

// Returns the 1-based number and text of the first line matching re. If no single line matches, falls back to line 1, with ok false.
func findFirstLine(content string, re *regexp.Regexp) (int, string, bool) {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		if re.MatchString(l) {
			return i + 1, l, true
		}
	}
	return 1, lines[0], false
}

func addFinding(findings []Finding, f Finding) []Finding {
	f.Evidence = truncateEvidence(strings.TrimSpace(f.Evidence))
	return append(findings, f)
}

func truncateEvidence(s string) string {
	if utf8.RuneCountInString(s) <= maxEvidenceLen {
		return s
	}
	return string([]rune(s)[:maxEvidenceLen]) + "…"
}

func findingKey(f Finding) string {
	return f.Code + ":" + f.File + ":" + strconv.Itoa(f.Line) + ":" + f.Message
}

func isAlways(frontmatter map[string]any) bool {
	switch v := frontmatter["always"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// JSON text of a metadata map; an absent map renders as "{}".
func jsonText(v map[string]any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
