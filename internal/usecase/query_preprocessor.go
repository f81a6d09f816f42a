package usecase

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// QueryPreprocessor turns a dictated list entry into a catalog search query
type QueryPreprocessor struct {
	logger *zap.Logger
}

// Compiled regex patterns for query preprocessing
var (
	// Matches size/quantity patterns like "128 fl oz", "12 oz", "1.5 liter", "2 lb"
	sizeQuantityPattern = regexp.MustCompile(`(?i)\b\d+\.?\d*\s*(fl\s*)?oz\b|\b\d+\.?\d*\s*(fl\s*)?ounces?\b|\b\d+\.?\d*\s*lbs?\b|\b\d+\.?\d*\s*pounds?\b|\b\d+\.?\d*\s*ml\b|\b\d+\.?\d*\s*liters?\b|\b\d+\.?\d*\s*gallons?\b|\b\d+\.?\d*\s*quarts?\b|\b\d+\.?\d*\s*pints?\b|\b\d+\.?\d*\s*kg\b|\b\d+\.?\d*\s*grams?\b|\b\d+\.?\d*\s*g\b`)

	// Matches pack/count patterns like "12 pack", "pack of 6", "6-pack", "24 count", "6 ct"
	packCountPattern = regexp.MustCompile(`(?i)\b\d+[-\s]*(pack|pk|count|ct)\b|\bpack\s*of\s*\d+\b`)

	// Matches standalone numbers with no unit (e.g., ", 128", "- 12")
	standaloneNumberPattern = regexp.MustCompile(`[,\-]\s*\d+\.?\d*\s*$|^\d+\.?\d*\s*[,\-]`)

	// Lone punctuation left behind after removals
	orphanPunctuationPattern   = regexp.MustCompile(`\s+[,\-;:]+\s+`)
	trailingPunctuationPattern = regexp.MustCompile(`[,\-;:]+\s*$`)
	leadingPunctuationPattern  = regexp.MustCompile(`^\s*[,\-;:]+`)

	// Multiple spaces cleanup
	multiSpacePattern = regexp.MustCompile(`\s+`)
)

// queryNoiseWords are spoken filler and marketing words that only dilute a
// catalog search
var queryNoiseWords = map[string]bool{
	// Marketing terms
	"value":    true,
	"bonus":    true,
	"new":      true,
	"improved": true,
	"premium":  true,
	"select":   true,
	"quality":  true,
	"best":     true,
	"favorite": true,
	"special":  true,

	// Spoken list filler
	"some":   true,
	"more":   true,
	"buy":    true,
	"get":    true,
	"need":   true,
	"please": true,

	// Packaging terms
	"package": true,
	"box":     true,
	"bag":     true,
	"bottle":  true,
	"carton":  true,
}

// maxQueryLength keeps search URLs short
const maxQueryLength = 100

// NewQueryPreprocessor creates a new query preprocessor
func NewQueryPreprocessor(logger *zap.Logger) *QueryPreprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryPreprocessor{logger: logger.Named("preprocess")}
}

// PreprocessQuery cleans an item name for catalog search.
// Removes size/quantity info, pack counts, filler words, and normalizes
// whitespace. If cleaning strips everything, the trimmed original is used.
func (p *QueryPreprocessor) PreprocessQuery(itemName string) string {
	original := strings.TrimSpace(itemName)
	if original == "" {
		return ""
	}

	cleaned := sizeQuantityPattern.ReplaceAllString(original, " ")
	cleaned = packCountPattern.ReplaceAllString(cleaned, " ")
	cleaned = standaloneNumberPattern.ReplaceAllString(cleaned, " ")
	cleaned = removeNoiseWords(cleaned)
	cleaned = cleanOrphanedPunctuation(cleaned)
	cleaned = multiSpacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		cleaned = original
	}

	if len(cleaned) > maxQueryLength {
		cleaned = cleaned[:maxQueryLength]
		// Try to cut at word boundary
		if lastSpace := strings.LastIndex(cleaned, " "); lastSpace > maxQueryLength/2 {
			cleaned = cleaned[:lastSpace]
		}
	}

	p.logger.Debug("preprocessed query", zap.String("input", original), zap.String("output", cleaned))

	return cleaned
}

// removeNoiseWords removes filler and marketing terms from the query
func removeNoiseWords(s string) string {
	words := strings.Fields(strings.ToLower(s))
	kept := make([]string, 0, len(words))

	for _, word := range words {
		cleanWord := strings.Trim(word, ",.!?;:-'\"")
		if !queryNoiseWords[cleanWord] {
			kept = append(kept, word)
		}
	}

	return strings.Join(kept, " ")
}

// cleanOrphanedPunctuation removes punctuation that's now alone (e.g., lone commas)
func cleanOrphanedPunctuation(s string) string {
	result := orphanPunctuationPattern.ReplaceAllString(s, " ")
	result = trailingPunctuationPattern.ReplaceAllString(result, "")
	return leadingPunctuationPattern.ReplaceAllString(result, "")
}
