package usecase

import (
	"fmt"
	"strings"

	"support-agent/internal/domain"
)

func buildClassificationPrompt(message string, categories []string) string {
	return strings.Join([]string{
		fmt.Sprintf("Classify the following user message into ONE of these categories: %s", strings.Join(categories, ", ")),
		"",
		"Instructions:",
		"- Choose the most appropriate category based on the user's intent",
		`- If the message doesn't clearly fit any category, respond with "default"`,
		"- Respond with ONLY the category name, nothing else",
		"",
		fmt.Sprintf("User message: %q", message),
		"",
		"Category:",
	}, "\n")
}

func buildRequirementsPrompt(message string, required []string, history []domain.Message) string {
	var context string
	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, m := range history {
			switch m.Role {
			case domain.RoleUser:
				lines = append(lines, "User: "+m.Content)
			case domain.RoleAssistant:
				lines = append(lines, "Assistant: "+m.Content)
			}
		}
		if len(lines) > 0 {
			context = "\nConversation history:\n" + strings.Join(lines, "\n") + "\n"
		}
	}

	return strings.Join([]string{
		"Analyze the conversation to determine which required information is present or missing.",
		"",
		fmt.Sprintf("Required fields: %s%s", strings.Join(required, ", "), context),
		fmt.Sprintf("Current message: %q", message),
		"",
		"Instructions:",
		"- Look at the ENTIRE conversation history, not just the current message",
		"- For each required field, determine if ANY message in the conversation contains that information",
		"- List only the MISSING fields (fields not present anywhere in the conversation)",
		`- If all fields are present, respond with "NONE"`,
		`- Respond with missing field names separated by commas, or "NONE"`,
		"",
		"Missing fields:",
	}, "\n")
}

func buildContinuityPrompt(current string, recentUser []string) string {
	return strings.Join([]string{
		"Determine if the current message starts a NEW conversation topic or continues the EXISTING topic.",
		"",
		"Recent conversation context: " + strings.Join(recentUser, " | "),
		"Current message: " + current,
		"",
		"Rules:",
		`- If the current message introduces a COMPLETELY DIFFERENT problem/service area, respond "NEW"`,
		`- If the current message continues the same issue, provides requested information, or gives more details, respond "CONTINUE"`,
		`- Be CONSERVATIVE - when in doubt, choose "CONTINUE"`,
		"",
		`Respond with only "NEW" or "CONTINUE":`,
	}, "\n")
}

type generationContext struct {
	personality string
	knowledge   string
	toolNames   []string
}

func buildGenerationPrompt(gc generationContext, messages []domain.Message) string {
	var b strings.Builder
	b.WriteString(gc.personality)

	if gc.knowledge != "" {
		b.WriteString("\n\nKnowledge:\n")
		b.WriteString(gc.knowledge)
	}
	if len(gc.toolNames) > 0 {
		b.WriteString("\n\nTools: ")
		b.WriteString(strings.Join(gc.toolNames, ", "))
	}

	b.WriteString("\n\nConversation history (use this context to provide relevant responses):")
	for _, m := range messages {
		role := "Assistant"
		if m.Role == domain.RoleUser {
			role = "User"
		}
		b.WriteString("\n")
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	b.WriteString("\nAssistant:")
	return b.String()
}

func buildFollowUpPrompt(userMessage string, missing []string) string {
	return strings.Join([]string{
		"You are a helpful assistant in a casual chat conversation.",
		"",
		fmt.Sprintf("The user said: %q", userMessage),
		"You need this missing info: " + strings.Join(missing, ", "),
		"",
		"Respond in 1-2 short sentences asking for what you need. Be direct and professional.",
		"",
		"Response:",
	}, "\n")
}

// fallbackFollowUp is the deterministic clarification used when the oracle
// cannot phrase one.
func fallbackFollowUp(missing []string) string {
	if len(missing) == 1 {
		return fmt.Sprintf("I can help with that! What's your %s?", missing[0])
	}
	fields := strings.Join(missing[:len(missing)-1], ", ") + ", and " + missing[len(missing)-1]
	return fmt.Sprintf("I can help! I just need your %s.", fields)
}
