// Command chat is the terminal chat consumer: it pulls character
// configuration from the directory service, streams replies from the chat
// backend, and optionally annotates each reply with a detected emotion.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ubk8751/cathyAI/internal/client"
	"github.com/ubk8751/cathyAI/internal/config"
	"github.com/ubk8751/cathyAI/internal/session"
)

var (
	authorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	emotionStyle = lipgloss.NewStyle().Faint(true).Italic(true)
)

func main() {
	var (
		configPath string
		charName   string
		modelName  string
	)

	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat client for the character directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, charName, modelName)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVarP(&charName, "character", "c", "", "character id, name, or alias")
	rootCmd.Flags().StringVarP(&modelName, "model", "m", "", "model name")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("chat: %v", err)
	}
}

func run(configPath, charName, modelName string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	directory := client.NewDirectory(cfg.CharAPIURL, cfg.CharAPIKey, cfg.CacheDir, cfg.ModelsTimeout)
	chat := client.NewChat(cfg.ChatAPIURL, cfg.ChatAPIKey, cfg.ChatTimeout)
	models := client.NewModels(cfg.ModelsAPIURL, cfg.ModelsAPIKey, cfg.ModelsTimeout)
	emotion := client.NewEmotion(cfg.EmotionAPIURL, cfg.EmotionAPIKey, cfg.EmotionEnabled, cfg.EmotionTimeout)
	identity := client.NewIdentity(cfg.IdentityAPIURL, cfg.IdentityAPIKey, cfg.ModelsTimeout)

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	externalID := session.ExternalID(username)
	ident := identity.Resolve(ctx, externalID)

	sess, err := session.Start(ctx, directory, session.Options{
		Character:     charName,
		Model:         modelName,
		Models:        models.List(ctx),
		Username:      username,
		PreferredName: ident.PreferredName,
	})
	if err != nil {
		return err
	}
	if sess.Character == nil {
		fmt.Println(warnStyle.Render("No characters available. Check the directory service configuration."))
		return nil
	}
	if sess.Model == "" {
		fmt.Println(warnStyle.Render("No models available. Check the models API configuration."))
		return nil
	}

	label := authorStyle.Render(sess.AuthorLabel())
	if greeting := sess.Character.Greeting; greeting != "" {
		fmt.Printf("%s: %s\n\n", label, greeting)
	}
	fmt.Println("Type 'exit' to quit, 'reset' to clear history.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit":
			return nil
		case "reset":
			sess.Reset()
			fmt.Println("Conversation history reset.")
			continue
		case "/whoami":
			fmt.Printf("external_id: %s\nperson_id: %s\npreferred_name: %s\n", externalID, ident.PersonID, sess.PreferredName)
			continue
		}

		sess.Push("user", input)
		reply, err := streamReply(ctx, chat, sess, label)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Println(warnStyle.Render("Chat error: " + err.Error()))
			slog.Error("generation failed", "error", err)
			continue
		}
		sess.Push("assistant", reply)

		if result := emotion.Detect(ctx, reply); result != nil && result.Label != "" {
			fmt.Println(emotionStyle.Render(fmt.Sprintf("Emotion: %s (confidence: %.2f)", capitalize(result.Label), result.Score)))
		}
	}
}

// streamReply prints deltas as they arrive and returns the full reply.
func streamReply(ctx context.Context, chat *client.Chat, sess *session.Session, label string) (string, error) {
	fmt.Printf("\n%s: ", label)
	var reply strings.Builder
	for delta, err := range chat.Stream(ctx, sess.Model, sess.History) {
		if err != nil {
			fmt.Println()
			return reply.String(), err
		}
		reply.WriteString(delta)
		fmt.Print(delta)
	}
	fmt.Print("\n\n")
	return reply.String(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
