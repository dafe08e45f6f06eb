package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/clawdhub/skillguard/models"
)

var SuspiciousExtensions = []string{".exe", ".dll", ".bat", ".cmd", ".ps1", ".scr", ".com", ".msi"}

type phraseRule struct {
	Label   string
	Pattern *regexp.Regexp
}

var suspiciousPhrases = []phraseRule{
	{Label: "free-nitro", Pattern: regexp.MustCompile(`(?i)free\s+nitro`)},
	{Label: "steam-gift", Pattern: regexp.MustCompile(`(?i)steam\s+gift|free\s+steam\s+wallet`)},
	{Label: "token-grabber", Pattern: regexp.MustCompile(`(?i)token\s+grabber|token\s+stealer`)},
	{Label: "wallet-seed", Pattern: regexp.MustCompile(`(?i)seed\s+phrase|wallet\s+drainer|crypto\s+airdrop`)},
	{Label: "credential-harvest", Pattern: regexp.MustCompile(`(?i)passwords?\s+stealer|credential\s+harvest`)},
	{Label: "piracy", Pattern: regexp.MustCompile(`(?i)crack(ed)?\s+version|license\s+key\s+generator`)},
}

// All the free text of a skill that phrase rules run against: slug, display name, summary, parsed metadata and frontmatter (as JSON), and file paths. Version may be nil.
func SkillText(skill *models.Skill, version *models.SkillVersion) string {
	parts := []string{skill.Slug, skill.DisplayName}
	if skill.Summary != nil {
		parts = append(parts, *skill.Summary)
	}
	if version != nil {
		if len(version.Parsed.Metadata) > 0 {
			if b, err := json.Marshal(version.Parsed.Metadata); err == nil {
				parts = append(parts, string(b))
			}
		}
		if len(version.Parsed.Frontmatter) > 0 {
			if b, err := json.Marshal(version.Parsed.Frontmatter); err == nil {
				parts = append(parts, string(b))
			}
		}
		for _, f := range version.Files {
			parts = append(parts, f.Path)
		}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// Runs the local heuristics, returning human-readable findings (empty if nothing matched).
func ScanLocally(skill *models.Skill, version *models.SkillVersion) []string {
	findings := []string{}

	if version != nil {
		matched := []string{}
		seen := map[string]bool{}
		for _, f := range version.Files {
			p := strings.ToLower(f.Path)
			for _, ext := range SuspiciousExtensions {
				if strings.HasSuffix(p, ext) && !seen[ext] {
					seen[ext] = true
					matched = append(matched, ext)
				}
			}
		}
		if len(matched) > 0 {
			findings = append(findings, fmt.Sprintf("bundled executables (%s)", strings.Join(matched, ", ")))
		}
	}

	text := SkillText(skill, version)
	for _, rule := range suspiciousPhrases {
		if rule.Pattern.MatchString(text) {
			findings = append(findings, "phrase:"+rule.Label)
		}
	}
	return findings
}

func heuristicReason(findings []string) string {
	return "Automod heuristic flagged: " + strings.Join(findings, ", ")
}

func aiReason(reason string) string {
	if strings.TrimSpace(reason) == "" {
		reason = "suspicious content"
	}
	return "Automod AI flagged: " + reason
}
