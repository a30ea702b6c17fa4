package usecase

import (
	"context"
	"log/slog"
	"strings"
)

// continuityLookback is how many prior user messages the detector shows the
// oracle when judging topic continuity.
const continuityLookback = 3

// TopicDetector decides whether an incoming message starts a new topic or
// continues the current one. The reset boundary for requirement-gathering
// progress hangs off this decision, so implementations should be
// conservative: a spurious NEW discards attempt counters.
type TopicDetector interface {
	IsNewTopic(ctx context.Context, current string, recentUser []string) bool
}

type oracleTopicDetector struct {
	oracle Oracle
	model  string
	logger *slog.Logger
}

func (d *oracleTopicDetector) IsNewTopic(ctx context.Context, current string, recentUser []string) bool {
	// Nothing to continue from.
	if len(recentUser) == 0 {
		return true
	}
	if len(recentUser) > continuityLookback {
		recentUser = recentUser[len(recentUser)-continuityLookback:]
	}

	reply, err := d.oracle.Complete(ctx, d.model, buildContinuityPrompt(current, recentUser))
	if err != nil {
		// Treat as continuation: keeping requirement-gathering progress is
		// the safer failure mode.
		d.logger.Warn("continuity oracle call failed, assuming continuation", "err", err)
		return false
	}
	return strings.EqualFold(strings.TrimSpace(reply), "NEW")
}
