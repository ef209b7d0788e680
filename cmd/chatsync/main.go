// chatsync - terminal client for the CareBridge daily check-in chat.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/carebridge/chatsync/internal/chat"
	"github.com/carebridge/chatsync/internal/config"
	"github.com/carebridge/chatsync/internal/conn"
	"github.com/carebridge/chatsync/internal/credentials"
	"github.com/carebridge/chatsync/internal/domain"
	"github.com/carebridge/chatsync/internal/session"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	creds, err := buildCredentials(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := session.NewService(cfg.BackendURL, cfg.UserTimezone(), creds, logger)
	mgr := conn.NewManager(conn.DefaultConfig(cfg.BackendURL), creds, logger)
	defer mgr.Close()

	client := chat.New(svc, mgr, logger)

	r := &renderer{client: client}
	client.SetUpdateFunc(r.refresh)

	if err := client.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load today's session:", err)
		os.Exit(1)
	}

	go client.Run(ctx)
	go watchStatus(ctx, mgr)

	fmt.Println("CareBridge check-in. Commands: /new, /chemo YYYY-MM-DD, /quit")
	inputLoop(ctx, client)
}

func buildCredentials(cfg *config.Config) (credentials.Provider, error) {
	switch {
	case cfg.Token != "":
		return credentials.Static(cfg.Token), nil
	case cfg.TokenFile != "":
		return &credentials.FileProvider{Path: cfg.TokenFile}, nil
	default:
		return nil, fmt.Errorf("no credentials: set CHAT_TOKEN or CHAT_TOKEN_FILE")
	}
}

// watchStatus surfaces connection state changes without disturbing the
// transcript on stdout.
func watchStatus(ctx context.Context, mgr *conn.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-mgr.StatusUpdates():
			if !ok {
				return
			}
			switch st.State {
			case conn.StateConnecting:
				if st.RetryCount > 0 {
					fmt.Fprintf(os.Stderr, "[connection] reconnecting (attempt %d)\n", st.RetryCount)
				}
			case conn.StateOpen:
				fmt.Fprintln(os.Stderr, "[connection] connected")
			case conn.StateClosed:
				if st.Err != nil {
					fmt.Fprintf(os.Stderr, "[connection] gave up: %v\n", st.Err)
				}
			case conn.StateErrored:
				fmt.Fprintf(os.Stderr, "[connection] error: %v\n", st.Err)
			}
		}
	}
}

func inputLoop(ctx context.Context, client *chat.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/new":
			fmt.Print("Start a new conversation? The current one is discarded. [y/N] ")
			if !scanner.Scan() || !strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
				fmt.Println("Kept the current conversation.")
				continue
			}
			if err := client.StartNewConversation(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "failed to start a new conversation:", err)
			}
		case strings.HasPrefix(line, "/chemo "):
			date, err := time.Parse("2006-01-02", strings.TrimSpace(strings.TrimPrefix(line, "/chemo ")))
			if err != nil {
				fmt.Println("Usage: /chemo YYYY-MM-DD")
				continue
			}
			client.PickChemoDate(ctx, date)
		default:
			dispatch(ctx, client, line)
		}
	}
}

// dispatch routes free input either to the pending interactive prompt or to
// the free-text box, mirroring which affordance is visible.
func dispatch(ctx context.Context, client *chat.Client, line string) {
	if prompt := activePrompt(client); prompt != nil {
		answerPrompt(ctx, client, prompt, line)
		return
	}
	if !client.ShowTextInput() {
		fmt.Println("(no input expected right now)")
		return
	}
	client.SubmitText(ctx, line)
}

// activePrompt returns the interactive prompt awaiting an answer, if any.
func activePrompt(client *chat.Client) *domain.Message {
	tr := client.Transcript()
	if tr == nil || client.Session() == nil || client.Session().Ended() {
		return nil
	}
	msgs := tr.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Sender != domain.SenderAssistant {
			continue
		}
		if m.Kind.IsInteractive() && tr.ShowInteractive(m) && !answered(msgs[i+1:]) {
			return &m
		}
		return nil
	}
	return nil
}

// answered reports whether any user message follows the prompt.
func answered(rest []domain.Message) bool {
	for _, m := range rest {
		if m.Sender == domain.SenderUser {
			return true
		}
	}
	return false
}

func answerPrompt(ctx context.Context, client *chat.Client, prompt *domain.Message, line string) {
	options := []string{}
	if prompt.StructuredData != nil {
		options = prompt.StructuredData.Options
	}

	switch prompt.Kind {
	case domain.KindMultiSelect:
		var picks []string
		for _, part := range strings.Split(line, ",") {
			pick, ok := resolveOption(options, strings.TrimSpace(part))
			if !ok {
				fmt.Printf("Unknown option %q. Choose from: %s\n", part, strings.Join(options, ", "))
				return
			}
			picks = append(picks, pick)
		}
		if max := prompt.StructuredData.MaxSelections; max > 0 && len(picks) > max {
			fmt.Printf("Pick at most %d options.\n", max)
			return
		}
		client.SubmitMultiSelect(ctx, picks)
	case domain.KindFeelingSelect:
		pick, ok := resolveOption(options, line)
		if !ok {
			fmt.Printf("Choose from: %s\n", strings.Join(options, ", "))
			return
		}
		client.SelectFeeling(ctx, pick)
	default:
		pick, ok := resolveOption(options, line)
		if !ok {
			fmt.Printf("Choose from: %s\n", strings.Join(options, ", "))
			return
		}
		client.SelectButton(ctx, pick)
	}
}

// resolveOption accepts either a 1-based option number or the option text.
func resolveOption(options []string, input string) (string, bool) {
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, o := range options {
		if strings.EqualFold(o, input) {
			return o, true
		}
	}
	return "", false
}

// renderer prints transcript growth incrementally. Streamed fragments extend
// the last printed line; anything that rewrites history triggers a full
// reprint under a divider.
type renderer struct {
	client *chat.Client

	mu   sync.Mutex
	last string
}

func (r *renderer) refresh() {
	out := r.render()

	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.HasPrefix(out, r.last) {
		fmt.Print(out[len(r.last):])
	} else {
		fmt.Print("\n----\n" + out)
	}
	r.last = out
}

func (r *renderer) render() string {
	tr := r.client.Transcript()
	if tr == nil {
		return ""
	}

	var b strings.Builder
	for _, m := range tr.Messages() {
		if m.Sender == domain.SenderUser {
			b.WriteString("\nyou: ")
		} else {
			b.WriteString("\ncarebridge: ")
		}
		b.WriteString(m.Content)
		if m.Sender == domain.SenderAssistant && m.StructuredData != nil && tr.ShowInteractive(m) {
			for i, o := range m.StructuredData.Options {
				fmt.Fprintf(&b, "\n  [%d] %s", i+1, o)
			}
		}
	}
	return b.String()
}
