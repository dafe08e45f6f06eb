package llm

import (
	"fmt"
	"strings"

	"github.com/clawdhub/skillguard/models"
)

const maxPromptFiles = 80

const Instructions = "You are helping a marketplace moderator detect malware/scams in skill bundles. " +
	`Return a JSON object with {"flag": boolean, "reason": string}. ` +
	"Flag true only if the input strongly suggests malware/scams (executables, credential theft, scams). " +
	"Keep reason short and factual. Return only JSON."

// Builds the short structured description of a skill sent to the classifier. Version may be nil.
func BuildPrompt(skill *models.Skill, version *models.SkillVersion) string {
	lines := []string{
		fmt.Sprintf("Skill: %s", skill.Slug),
		fmt.Sprintf("Display name: %s", skill.DisplayName),
	}
	if skill.Summary != nil && *skill.Summary != "" {
		lines = append(lines, fmt.Sprintf("Summary: %s", *skill.Summary))
	}

	ver := "unknown"
	if version != nil && version.Version != "" {
		ver = version.Version
	}
	lines = append(lines, fmt.Sprintf("Latest version: %s", ver))

	if version != nil && len(version.Files) > 0 {
		paths := make([]string, 0, maxPromptFiles)
		for _, f := range version.Files {
			if len(paths) >= maxPromptFiles {
				break
			}
			paths = append(paths, f.Path)
		}
		lines = append(lines, "Files: "+strings.Join(paths, ", "))
	} else {
		lines = append(lines, "Files: none")
	}
	return strings.Join(lines, "\n")
}
