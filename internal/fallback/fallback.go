package fallback

import (
	"strings"
	"unicode"

	"github.com/Leyaaaan1/saas-apify/internal/domain"
)

const (
	summaryLimit = 100
	maxKeywords  = 5
	minTokenLen  = 5
	placeholder  = "No summary available"
)

var positiveWords = map[string]bool{
	"amazing": true, "awesome": true, "best": true, "excellent": true,
	"fantastic": true, "good": true, "great": true, "happy": true,
	"helpful": true, "impressive": true, "love": true, "loved": true,
	"perfect": true, "recommend": true, "success": true, "useful": true,
	"wonderful": true, "winning": true,
}

var negativeWords = map[string]bool{
	"annoying": true, "awful": true, "bad": true, "broken": true,
	"disappointed": true, "disappointing": true, "fail": true, "failed": true,
	"hate": true, "horrible": true, "problem": true, "scam": true,
	"terrible": true, "useless": true, "waste": true, "worst": true,
	"wrong": true,
}

var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "anyone": true,
	"because": true, "before": true, "being": true, "between": true,
	"could": true, "doing": true, "every": true, "first": true,
	"getting": true, "going": true, "having": true, "other": true,
	"people": true, "really": true, "should": true, "since": true,
	"still": true, "their": true, "there": true, "these": true,
	"thing": true, "things": true, "think": true, "those": true,
	"through": true, "today": true, "using": true, "where": true,
	"which": true, "while": true, "would": true, "years": true,
}

// Analyze produces a deterministic classification without any external
// calls. It is the permanent substitute once the remote engine has
// degraded, and the per-call substitute for non-throttle failures.
func Analyze(title, content string) domain.Analysis {
	return domain.Analysis{
		Sentiment: sentiment(title, content),
		Summary:   summarize(title),
		Keywords:  keywords(title + " " + content),
		Engine:    domain.EngineFallback,
	}
}

func sentiment(title, content string) domain.Sentiment {
	positives, negatives := 0, 0
	for _, token := range tokenize(title + " " + content) {
		if positiveWords[token] {
			positives++
		}
		if negativeWords[token] {
			negatives++
		}
	}

	switch {
	case positives > negatives && positives > 0:
		return domain.SentimentPositive
	case negatives > positives && negatives > 0:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

func summarize(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return placeholder
	}
	runes := []rune(title)
	if len(runes) <= summaryLimit {
		return title
	}
	return string(runes[:summaryLimit]) + "..."
}

func keywords(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, token := range tokenize(text) {
		if len(token) < minTokenLen || stopWords[token] || isURL(token) {
			continue
		}
		if seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

func tokenize(text string) []string {
	var tokens []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word != "" {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

func isURL(token string) bool {
	return strings.HasPrefix(token, "http") || strings.HasPrefix(token, "www")
}
