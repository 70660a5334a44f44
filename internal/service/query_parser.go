package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// ---- Language aliases ------------------------------------------------------

// languageAliases maps lower-cased tokens to GitHub's language names. Go is
// recognised only as the capitalised token "Go" (see languageOf).
var languageAliases = map[string]string{
	"python":     "Python",
	"javascript": "JavaScript",
	"js":         "JavaScript",
	"typescript": "TypeScript",
	"ts":         "TypeScript",
	"golang":     "Go",
	"rust":       "Rust",
	"java":       "Java",
	"kotlin":     "Kotlin",
	"swift":      "Swift",
	"ruby":       "Ruby",
	"php":        "PHP",
	"c++":        "C++",
	"cpp":        "C++",
	"c#":         "C#",
	"csharp":     "C#",
	"scala":      "Scala",
	"elixir":     "Elixir",
	"haskell":    "Haskell",
	"dart":       "Dart",
}

// ---- Extraction patterns ---------------------------------------------------

var (
	// "500+ stars", "over 1k stars", "at least 2.5k stars"
	starsBefore = regexp.MustCompile(`(?i)\b(?:(?:over|above|more than|at least|min(?:imum)?)\s+)?(\d+(?:\.\d+)?)(k)?\+?\s*stars?\b`)

	// "stars>1000", "stars:>=2k", "stars 300"
	starsAfter = regexp.MustCompile(`(?i)\bstars?\s*(?::\s*)?(?:>=?|\s)\s*(\d+(?:\.\d+)?)(k)?\b`)

	labelQualifier = regexp.MustCompile(`(?i)\blabel:(?:"([^"]+)"|(\S+))`)
	labelPhrases   = []struct {
		re    *regexp.Regexp
		label string
	}{
		{regexp.MustCompile(`(?i)\bgood[\s-]+first[\s-]+issues?\b`), "good first issue"},
		{regexp.MustCompile(`(?i)\bhelp[\s-]+wanted\b`), "help wanted"},
	}

	recentDays  = regexp.MustCompile(`(?i)\b(?:last|past|within)\s+(\d+)\s+days?\b`)
	recentWords = []struct {
		re   *regexp.Regexp
		days int
	}{
		{regexp.MustCompile(`(?i)\btoday\b`), 1},
		{regexp.MustCompile(`(?i)\b(?:this|last|past)\s+week\b`), 7},
		{regexp.MustCompile(`(?i)\b(?:this|last|past)\s+month\b`), 30},
		{regexp.MustCompile(`(?i)\brecent(?:ly)?\b`), 7},
	}

	edgePunct = "\"'.,;:!?()[]{}"
)

// ParseQuery splits a raw query into structured filters and the remaining
// semantic text. Extraction is deterministic; anything unrecognised stays in
// the semantic text. When nothing is left, the trimmed raw query is used.
func ParseQuery(raw string) models.ParsedQuery {
	var pq models.ParsedQuery
	text := raw

	// 1. Stars.
	for _, re := range []*regexp.Regexp{starsBefore, starsAfter} {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, ok := parseStars(m[1], m[2]); ok {
				pq.MinStars = n
				text = strings.Replace(text, m[0], " ", 1)
				break
			}
		}
	}

	// 2. Labels: explicit qualifiers first, then known phrases.
	for _, m := range labelQualifier.FindAllStringSubmatch(text, -1) {
		pq.LabelFilter = appendUnique(pq.LabelFilter, strings.ToLower(m[1]+m[2]))
	}
	text = labelQualifier.ReplaceAllString(text, " ")
	for _, p := range labelPhrases {
		if p.re.MatchString(text) {
			pq.LabelFilter = appendUnique(pq.LabelFilter, p.label)
			text = p.re.ReplaceAllString(text, " ")
		}
	}

	// 3. Recency window.
	if m := recentDays.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			pq.DaysAgo = n
		}
		text = strings.Replace(text, m[0], " ", 1)
	}
	for _, w := range recentWords {
		if loc := w.re.FindStringIndex(text); loc != nil {
			if pq.DaysAgo == 0 {
				pq.DaysAgo = w.days
			}
			text = text[:loc[0]] + " " + text[loc[1]:]
		}
	}

	// 4. Language: the first recognised token wins; every recognised token
	// leaves the semantic text.
	var kept []string
	for _, tok := range strings.Fields(text) {
		if lang, ok := languageOf(tok); ok {
			if pq.LanguageFilter == "" {
				pq.LanguageFilter = lang
			}
			continue
		}
		kept = append(kept, tok)
	}

	pq.SemanticText = strings.Join(kept, " ")
	if pq.SemanticText == "" {
		pq.SemanticText = strings.TrimSpace(raw)
	}
	return pq
}

func languageOf(tok string) (string, bool) {
	tok = strings.Trim(tok, edgePunct)
	if tok == "Go" {
		return "Go", true
	}
	lang, ok := languageAliases[strings.ToLower(tok)]
	return lang, ok
}

// parseStars reads "1.5" + "k" as 1500.
func parseStars(num, suffix string) (int, bool) {
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	if suffix != "" {
		f *= 1000
	}
	return int(f), true
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
