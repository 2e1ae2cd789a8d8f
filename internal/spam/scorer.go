package spam

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	keywordWeight  = 15
	urlTokenWeight = 10
	capsWeight     = 30
	lengthPenalty  = 10
	minTextLength  = 10
	maxTextLength  = 2000

	// MaxScore is the upper bound of every score.
	MaxScore = 100
)

// Keywords are the phrases that raise a submission's score, once each.
var Keywords = []string{
	"casino",
	"poker",
	"viagra",
	"cialis",
	"lottery",
	"winner",
	"click here",
	"free money",
	"make money",
	"work from home",
}

var (
	bareURLPattern   = regexp.MustCompile(`https?://(?:[a-zA-Z0-9]|[$\-_@.&+]|[!*(),]|%[0-9a-fA-F]{2})+`)
	clickBaitPattern = regexp.MustCompile(`(?i)\b(?:click here|buy now|free|urgent|act now)\b`)
)

// Submission carries the fields a score is computed from. Only Text
// contributes today; the rest travel with it for scorers that need them.
type Submission struct {
	Text   string
	Author string
	Email  string
	IP     string
}

// Scorer computes advisory spam scores. The zero value is ready to use.
type Scorer struct{}

// NewScorer returns a Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the weighted heuristic score of the submission clamped to 0..MaxScore.
func (s *Scorer) Score(submission Submission) int {
	lowered := strings.ToLower(submission.Text)

	total := 0.0
	for _, keyword := range Keywords {
		if strings.Contains(lowered, keyword) {
			total += keywordWeight
		}
	}

	total += float64(strings.Count(lowered, "http") * urlTokenWeight)
	total += upperRatio(submission.Text) * capsWeight

	length := utf8.RuneCountInString(submission.Text)
	if length < minTextLength || length > maxTextLength {
		total += lengthPenalty
	}

	return Clamp(int(math.Round(total)))
}

// Clamp bounds score to 0..MaxScore.
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

func upperRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// MatchesRejectPattern reports whether visible text carries a bare URL or a
// click-bait phrase. Callers pass text with markup already stripped so that
// links inside allowed anchors are not counted.
func MatchesRejectPattern(visible string) bool {
	return bareURLPattern.MatchString(visible) || clickBaitPattern.MatchString(visible)
}
