// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package companion parses companion PR references out of free-text PR
// descriptions and recursively validates their mergeability, walking the
// dependency DAG depth-first and pruning cycles with a trail rather than a
// runtime cycle detector. Ported from parity-processbot's companion.rs: the
// regex shapes, the trail-pruning rule, and the exact gate-check order in
// CheckAllCompanionsAreMergeable are preserved.
package companion

import (
	"regexp"
	"strings"

	"github.com/microsoft/mergebot/domain"
)

// longPattern matches "companion ... github.com/<owner>/<repo>/pull/<number>".
var longPattern = regexp.MustCompile(`(?i)companion[^\n]*github\.com/([^/\s]+)/([^/\s]+)/pull/(\d+)`)

// shortPattern matches "companion ... <owner>/<repo>#<number>".
var shortPattern = regexp.MustCompile(`(?i)companion[^\n]*?([^/\s]+)/([^/#\s]+)#(\d+)`)

// marker locates the literal word "companion", case-insensitively, so
// hasForBefore can scope its search to the text between the marker and a
// matched reference rather than the whole line.
var marker = regexp.MustCompile(`(?i)companion`)

// forWord matches the literal word "for".
var forWord = regexp.MustCompile(`(?i)\bfor\b`)

// hasForBefore reports whether "for" appears between the "companion"
// marker and refStart, the start offset of the matched reference. Go's
// RE2 engine has no lookbehind, so this is checked against the substring
// rather than folded into longPattern/shortPattern themselves.
func hasForBefore(line string, refStart int) bool {
	loc := marker.FindStringIndex(line)
	if loc == nil || loc[0] > refStart {
		return false
	}
	return forWord.MatchString(line[loc[1]:refStart])
}

// ParseAllCompanions scans body line by line for companion references,
// excluding any whose (owner, repo) already appears in trail (breaking
// cycles at parse time rather than during traversal). The long URL form
// wins when both forms match the same line.
func ParseAllCompanions(trail []domain.CompanionReferenceTrailItem, body string) []domain.PullRequestDetailsWithHtmlUrl {
	var result []domain.PullRequestDetailsWithHtmlUrl
	for _, line := range strings.Split(body, "\n") {
		ref, ok := parseLine(line)
		if !ok {
			continue
		}
		if inTrail(trail, ref.Owner, ref.Repo) {
			continue
		}
		result = append(result, ref)
	}
	return result
}

func parseLine(line string) (domain.PullRequestDetailsWithHtmlUrl, bool) {
	if loc := longPattern.FindStringSubmatchIndex(line); loc != nil {
		if hasForBefore(line, loc[2]) {
			return domain.PullRequestDetailsWithHtmlUrl{}, false
		}
		m := submatches(line, loc)
		return domain.PullRequestDetailsWithHtmlUrl{
			PullRequestDetails: domain.PullRequestDetails{
				Owner: m[1], Repo: m[2], Number: atoiSafe(m[3]),
			},
			HtmlUrl: "https://github.com/" + m[1] + "/" + m[2] + "/pull/" + m[3],
		}, true
	}
	if loc := shortPattern.FindStringSubmatchIndex(line); loc != nil {
		if hasForBefore(line, loc[2]) {
			return domain.PullRequestDetailsWithHtmlUrl{}, false
		}
		m := submatches(line, loc)
		return domain.PullRequestDetailsWithHtmlUrl{
			PullRequestDetails: domain.PullRequestDetails{
				Owner: m[1], Repo: m[2], Number: atoiSafe(m[3]),
			},
			HtmlUrl: "https://github.com/" + m[1] + "/" + m[2] + "/pull/" + m[3],
		}, true
	}
	return domain.PullRequestDetailsWithHtmlUrl{}, false
}

// submatches rebuilds the []string FindStringSubmatch would have returned,
// from the index pairs FindStringSubmatchIndex gives so callers can also
// recover the match's start offset.
func submatches(line string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			continue
		}
		out[i] = line[start:end]
	}
	return out
}

func inTrail(trail []domain.CompanionReferenceTrailItem, owner, repo string) bool {
	for _, t := range trail {
		if strings.EqualFold(t.Owner, owner) && strings.EqualFold(t.Repo, repo) {
			return true
		}
	}
	return false
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
