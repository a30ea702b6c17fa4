package usecase

import (
	"context"
	"log/slog"
	"strings"
)

// CategoryDefault is the sentinel returned when a message fits no declared
// category, classification is unconfigured, or the oracle is unusable.
const CategoryDefault = "default"

// Classifier maps a message onto one of the declared categories. The result
// is always a declared category (case preserved as declared) or
// CategoryDefault; implementations never return an error because
// misclassification must degrade the turn, not abort it.
type Classifier interface {
	Classify(ctx context.Context, message string, categories []string) string
}

type oracleClassifier struct {
	oracle Oracle
	model  string
	logger *slog.Logger
}

func (c *oracleClassifier) Classify(ctx context.Context, message string, categories []string) string {
	if len(categories) == 0 {
		return CategoryDefault
	}

	reply, err := c.oracle.Complete(ctx, c.model, buildClassificationPrompt(message, categories))
	if err != nil {
		c.logger.Warn("classification oracle call failed, falling back to default", "err", err)
		return CategoryDefault
	}

	got := strings.ToLower(strings.TrimSpace(reply))
	for _, cat := range categories {
		if strings.ToLower(cat) == got {
			return cat
		}
	}
	return CategoryDefault
}
