// Command chat runs the agent as a local REPL against an embedded Badger
// state store, for trying out a profile without deploying anything.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"support-agent/internal/config"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/knowledge"
	"support-agent/internal/repository"
	"support-agent/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		profilePath string
		stateDir    string
		userID      string
		baseURL     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent profile locally",
		Long: "Loads an agent profile and starts an interactive chat session.\n" +
			"Conversation state persists in a local Badger database, so a\n" +
			"session can be resumed by reusing the same user id.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), profilePath, stateDir, userID, baseURL)
		},
	}

	cmd.Flags().StringVarP(&profilePath, "profile", "p", "agent.yaml", "agent profile file")
	cmd.Flags().StringVar(&stateDir, "state-dir", ".agent-state", "directory for conversation state")
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id for this session")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "override the OpenAI-compatible API base URL")
	return cmd
}

func runChat(ctx context.Context, profilePath, stateDir, userID, baseURL string) error {
	profile, err := config.Load(profilePath)
	if err != nil {
		return err
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	var opts []openai.Option
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	oracle, err := openai.NewStaticClient(apiKey, opts...)
	if err != nil {
		return err
	}

	store, err := repository.NewBadger(repository.BadgerOptions{Dir: stateDir})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	km := knowledge.NewManager()
	if err := km.LoadSources(ctx, profile.KnowledgeSources()); err != nil {
		slog.Warn("some knowledge sources failed to load", "err", err)
	}

	svc, err := usecase.NewAgentService(usecase.ServiceConfig{
		Oracle:              oracle,
		Store:               store,
		Profile:             profile,
		Knowledge:           km,
		Model:               profile.Model,
		ConfidenceThreshold: profile.ConfidenceThreshold,
	})
	if err != nil {
		return err
	}

	prompt := color.New(color.FgCyan, color.Bold)
	agentName := color.New(color.FgGreen, color.Bold)
	name := profile.Name
	if name == "" {
		name = "agent"
	}

	fmt.Printf("Chatting with %s (user %s). Ctrl-D or /quit to exit.\n", name, userID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		prompt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		reply, err := svc.Chat(ctx, line, userID)
		if err != nil {
			color.Red("error: %v", err)
			continue
		}
		agentName.Printf("%s> ", name)
		fmt.Println(reply)
	}
}
