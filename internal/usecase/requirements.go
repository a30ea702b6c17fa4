package usecase

import (
	"context"
	"log/slog"
	"strings"

	"support-agent/internal/domain"
)

// requirementHistoryWindow bounds how much recent conversation the checker
// shows the oracle. Tuning parameter, not a correctness contract.
const requirementHistoryWindow = 5

// RequirementChecker decides whether the conversation has supplied the
// fields a category requires. The missing list is always a subset of the
// declared required fields; the oracle is never allowed to invent names.
type RequirementChecker interface {
	Check(ctx context.Context, message, category string, requirements []domain.CategoryRequirement, history []domain.Message) (satisfied bool, missing []string)
}

type oracleChecker struct {
	oracle Oracle
	model  string
	logger *slog.Logger
}

func (c *oracleChecker) Check(ctx context.Context, message, category string, requirements []domain.CategoryRequirement, history []domain.Message) (bool, []string) {
	required := requiredFieldsFor(category, requirements)
	if len(required) == 0 {
		return true, nil
	}

	window := history
	if len(window) > requirementHistoryWindow {
		window = window[len(window)-requirementHistoryWindow:]
	}

	reply, err := c.oracle.Complete(ctx, c.model, buildRequirementsPrompt(message, required, window))
	if err != nil {
		// Fail safe: an unreachable oracle must not let an incomplete
		// request through to a handler. Report every field missing.
		c.logger.Warn("requirements oracle call failed, treating all fields as missing", "category", category, "err", err)
		return false, append([]string(nil), required...)
	}

	result := strings.TrimSpace(reply)
	if strings.EqualFold(result, "NONE") {
		return true, nil
	}

	var missing []string
	for _, field := range strings.Split(result, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		for _, declared := range required {
			if field == declared {
				missing = append(missing, declared)
				break
			}
		}
	}
	return len(missing) == 0, missing
}

func requiredFieldsFor(category string, requirements []domain.CategoryRequirement) []string {
	for _, req := range requirements {
		if req.Category == category {
			return req.RequiredFields
		}
	}
	return nil
}
