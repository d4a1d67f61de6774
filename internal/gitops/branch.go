package gitops

import (
	"net/url"
	"regexp"
	"strings"
)

// fixBranchSuffix marks a branch as produced by the automated fixer.
const fixBranchSuffix = "AI_Fix"

var (
	invalidRefChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
	repeatedSep     = regexp.MustCompile(`_+`)
)

// BranchName derives a deterministic branch name from team and leader
// identifiers. Whitespace and punctuation collapse to single underscores:
//
//	BranchName("RIFT ORGANISERS", "Saiyam Kumar") == "RIFT_ORGANISERS_Saiyam_Kumar_AI_Fix"
func BranchName(team, leader string) string {
	return sanitizeRef(team) + "_" + sanitizeRef(leader) + "_" + fixBranchSuffix
}

func sanitizeRef(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = invalidRefChars.ReplaceAllString(s, "_")
	s = repeatedSep.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// BranchURL returns the GitHub tree URL for a branch of the repository, or
// an empty string when the repo is not hosted on github.com.
func BranchURL(repoURL, branch string) string {
	u, err := url.Parse(repoURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host != "github.com" && !strings.HasSuffix(host, ".github.com") {
		return ""
	}
	repoPath := strings.TrimSuffix(strings.TrimRight(u.Path, "/"), ".git")
	return "https://github.com" + repoPath + "/tree/" + branch
}
