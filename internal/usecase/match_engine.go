package usecase

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
)

// Package-level compiled regex pattern for performance
var punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// Score weights. Query coverage dominates: a candidate that contains every
// requested token is a good match even if its title carries extra detail.
const (
	queryCoverageWeight     = 0.60
	candidateCoverageWeight = 0.20
	jaccardWeight           = 0.20
	fuzzyWeightFactor       = 0.8 // Fuzzy matches get 80% of an exact token
	maxScore                = 100.0
)

// extendedStopWords includes basic English stop words plus product-specific noise
var extendedStopWords = map[string]bool{
	// Basic English stop words
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "by": true, "from": true, "is": true,
	"it": true, "as": true, "be": true, "was": true, "are": true,
	// Size/quantity units
	"oz": true, "fl": true, "lb": true, "lbs": true, "ml": true,
	"gallon": true, "quart": true, "pint": true, "liter": true, "liters": true,
	"gram": true, "grams": true, "kg": true, "ounce": true, "ounces": true,
	"cup": true, "cups": true, "tbsp": true, "tsp": true,
	// Packaging terms
	"pack": true, "packs": true, "count": true, "ct": true, "pk": true,
	"box": true, "bag": true, "bottle": true, "bottles": true, "can": true,
	"cans": true, "carton": true, "container": true, "pouch": true, "jar": true,
	"tub": true, "sleeve": true, "roll": true, "rolls": true,
	// Marketing/generic terms
	"size": true, "value": true, "family": true, "each": true, "per": true,
	"serving": true, "servings": true, "approx": true, "approximately": true,
	"bonus": true, "new": true, "improved": true, "product": true,
}

// MatchConfig holds configuration for the match engine
type MatchConfig struct {
	EnableFuzzyMatching bool
	FuzzyEditDistance   int
}

// MatchEngine scores free-text queries against product names. It has no
// side effects and is safe for concurrent use.
type MatchEngine struct {
	enableFuzzyMatching bool
	fuzzyEditDistance   int
	logger              *zap.Logger
}

// NewMatchEngine creates a match engine with the given configuration
func NewMatchEngine(config MatchConfig, logger *zap.Logger) *MatchEngine {
	fuzzyDist := config.FuzzyEditDistance
	if fuzzyDist <= 0 {
		fuzzyDist = 1 // Default edit distance of 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MatchEngine{
		enableFuzzyMatching: config.EnableFuzzyMatching,
		fuzzyEditDistance:   fuzzyDist,
		logger:              logger.Named("match"),
	}
}

// Score computes the similarity of candidateName to query in [0,100].
// Both sides go through the same normalization (case, punctuation, stop
// words, plural folding) and are compared as token sets:
//   - query coverage: share of query tokens found in the candidate (60%)
//   - candidate coverage: share of candidate tokens found in the query (20%)
//   - Jaccard index of the two sets (20%)
//
// An empty or punctuation-only query scores 0; identical strings score 100.
func (e *MatchEngine) Score(query, candidateName string) float64 {
	queryTokens := tokenSet(query)
	candidateTokens := tokenSet(candidateName)
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return 0
	}

	exact := 0
	queryMatched := 0.0
	for t := range queryTokens {
		if candidateTokens[t] {
			exact++
			queryMatched++
			continue
		}
		if e.enableFuzzyMatching && e.fuzzyContains(t, candidateTokens) {
			queryMatched += fuzzyWeightFactor
		}
	}

	union := len(queryTokens) + len(candidateTokens) - exact
	queryCoverage := queryMatched / float64(len(queryTokens))
	candidateCoverage := float64(exact) / float64(len(candidateTokens))
	jaccard := float64(exact) / float64(union)

	score := (queryCoverage*queryCoverageWeight +
		candidateCoverage*candidateCoverageWeight +
		jaccard*jaccardWeight) * maxScore

	return clampScore(score)
}

// Rank scores every candidate against query and returns those scoring at
// least threshold, ordered by score desc, then purchase frequency desc,
// then original result rank.
func (e *MatchEngine) Rank(query string, candidates []domain.CatalogCandidate, threshold float64) []domain.MatchResult {
	results := make([]domain.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		score := e.Score(query, c.DisplayName)
		e.logger.Debug("scored candidate",
			zap.String("query", query),
			zap.String("candidate", c.DisplayName),
			zap.Float64("score", score))
		if !Acceptable(score, threshold) {
			continue
		}
		results = append(results, domain.MatchResult{Candidate: c, Score: score})
	}
	SortMatches(results)
	return results
}

// Best returns the top ranked candidate at or above threshold.
func (e *MatchEngine) Best(query string, candidates []domain.CatalogCandidate, threshold float64) (domain.MatchResult, bool) {
	ranked := e.Rank(query, candidates, threshold)
	if len(ranked) == 0 {
		return domain.MatchResult{}, false
	}
	return ranked[0], true
}

// Acceptable reports whether score clears a tier threshold.
func Acceptable(score, threshold float64) bool {
	return score > 0 && score >= threshold
}

// SortMatches orders results by score desc, purchase frequency desc and
// original rank asc.
func SortMatches(results []domain.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Candidate.PurchaseFrequency != b.Candidate.PurchaseFrequency {
			return a.Candidate.PurchaseFrequency > b.Candidate.PurchaseFrequency
		}
		return a.Candidate.Rank < b.Candidate.Rank
	})
}

func clampScore(score float64) float64 {
	score = math.Round(score*100) / 100
	if score > maxScore {
		return maxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

func (e *MatchEngine) fuzzyContains(token string, set map[string]bool) bool {
	for candidate := range set {
		if fuzzyTokenMatch(token, candidate, e.fuzzyEditDistance) {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]bool {
	tokens := tokenize(s)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// tokenize splits a string into normalized lowercase tokens.
// Removes punctuation, stop words, product noise, and pure numeric tokens.
// If filtering leaves nothing, the unfiltered words are used so that a
// query made only of stop words still matches itself.
func tokenize(s string) []string {
	// Remove punctuation and convert to lowercase
	cleaned := punctuationRegex.ReplaceAllString(strings.ToLower(s), " ")

	// Split on whitespace
	words := strings.Fields(cleaned)

	var tokens []string
	for _, word := range words {
		// Skip short tokens (1 char or less)
		if len(word) <= 1 {
			continue
		}
		// Skip stop words and product noise
		if extendedStopWords[word] {
			continue
		}
		// Skip pure numeric tokens (e.g., "128", "12")
		if isNumeric(word) {
			continue
		}
		tokens = append(tokens, singularize(word))
	}

	if len(tokens) == 0 {
		for _, word := range words {
			tokens = append(tokens, singularize(word))
		}
	}

	return tokens
}

// singularize folds simple English plurals ("eggs" -> "egg").
func singularize(word string) string {
	if len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
		return word[:len(word)-1]
	}
	return word
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// fuzzyTokenMatch checks if two tokens are similar within the edit distance threshold
func fuzzyTokenMatch(token1, token2 string, threshold int) bool {
	if token1 == token2 {
		return true
	}

	// Only apply fuzzy matching to tokens > 4 chars to avoid false positives
	if len(token1) < 4 || len(token2) < 4 {
		return false
	}

	// Quick length check - if lengths differ by more than threshold, can't match
	lenDiff := len(token1) - len(token2)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > threshold {
		return false
	}

	return levenshteinDistance(token1, token2) <= threshold
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	m := len(r1)
	n := len(r2)

	// Use two rows instead of full matrix for space efficiency
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[n]
}
