package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/twinsight/internal/app"
	"github.com/ppiankov/twinsight/internal/chat"
	"github.com/ppiankov/twinsight/internal/model"
	"github.com/ppiankov/twinsight/internal/rag"
)

var (
	chatModelID     int64
	chatContextCode string
	chatContextType string
	chatTimeout     time.Duration
	chatJSON        bool
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the assistant a question",
	Long: `Send one chat turn, or start an interactive session when no message is
given. Questions about temperature trends fetch live sensor history.

Example:
  twinsight chat "查询泵房温度趋势" --file-id 7
  twinsight chat --context R101
  twinsight chat "AHU-01 最近一周的温度" --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Int64Var(&chatModelID, "file-id", 0, "building model id scoping the knowledge base")
	chatCmd.Flags().StringVar(&chatContextCode, "context", "", "code of the selected room or asset")
	chatCmd.Flags().StringVar(&chatContextType, "context-type", "space", "type of the selected entity (space, asset)")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 3*time.Minute, "timeout per turn")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print full responses as JSON")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, logger, err := bootstrap(context.Background(), app.DispatchNone)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = logger.Sync() }()

	var target *model.Target
	if chatContextCode != "" {
		target = &model.Target{Type: chatContextType, Code: chatContextCode}
	}

	if len(args) == 1 {
		_, err := chatTurn(a.Chat, chat.Request{Message: args[0], Context: target, ModelID: chatModelID})
		return err
	}

	fmt.Fprintln(os.Stderr, "Interactive chat. Empty line or Ctrl-D exits.")
	var history []rag.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			break
		}
		resp, err := chatTurn(a.Chat, chat.Request{Message: msg, Context: target, ModelID: chatModelID, History: history})
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
			continue
		}
		history = append(history,
			rag.Message{Role: "user", Content: msg},
			rag.Message{Role: "assistant", Content: resp.Content},
		)
	}
	return scanner.Err()
}

func chatTurn(loop *chat.Loop, req chat.Request) (*model.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()

	resp, err := loop.Process(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat failed: %w", err)
	}

	if chatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return resp, enc.Encode(resp)
	}

	fmt.Println(resp.Content)
	if c := resp.ChartData; c != nil {
		fmt.Printf("\n%s: %d points, min %.1f max %.1f mean %.1f\n",
			c.Title, len(c.Points), c.Stats.Min, c.Stats.Max, c.Stats.Mean)
	}
	printSources(resp.Sources)
	for _, action := range resp.Actions {
		fmt.Printf("  → %s %v\n", action.Action, action.Params)
	}
	return resp, nil
}
