package usecase

// Scorer turns a generated response into a scalar quality score compared
// against the service's confidence threshold. Higher means more confident.
// The scoring strategy is deliberately pluggable; the default is a crude
// length proxy.
type Scorer interface {
	Score(response string) float64
}

// LengthScorer scores a response as its length divided by 100, so a reply
// shorter than 70 characters falls below the default 0.7 threshold.
type LengthScorer struct{}

func (LengthScorer) Score(response string) float64 {
	return float64(len(response)) / 100
}
