package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"homechat/internal/client"
	clog "homechat/internal/log"
	"homechat/internal/protocol"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Join a project chat from the terminal",
	Long:  "chatctl connects to the chat server, joins a project and sends each stdin line as a message.\nLines starting with /read <id> mark a message as read.",
	RunE:  runChat,
}

var (
	flagURL      string
	flagToken    string
	flagUserID   uint
	flagProject  uint
	flagLogLevel string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagURL, "url", "ws://localhost:8080/ws", "chat server websocket URL")
	flags.StringVar(&flagToken, "token", os.Getenv("CHAT_TOKEN"), "access token (from env CHAT_TOKEN if set)")
	flags.UintVar(&flagUserID, "user", 0, "user id to authenticate as")
	flags.UintVar(&flagProject, "project", 0, "project id to join")
	flags.StringVar(&flagLogLevel, "log-level", "warn", "log level")
	_ = rootCmd.MarkPersistentFlagRequired("user")
	_ = rootCmd.MarkPersistentFlagRequired("project")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chatctl")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	clog.Init("dev", flagLogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Options{URL: flagURL, Token: flagToken, UserID: flagUserID})
	if err := c.Join(flagProject); err != nil {
		return fmt.Errorf("join project: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return printEvents(gctx, cmd.OutOrStdout(), c) })
	g.Go(func() error {
		err := readInput(gctx, cmd.InOrStdin(), cmd.ErrOrStderr(), c, flagProject)
		stop()
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printEvents(ctx context.Context, w io.Writer, c *client.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.Events():
			if line := describe(ev); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}
}

func describe(ev client.Event) string {
	switch e := ev.(type) {
	case client.Connected:
		return "* connected"
	case client.Disconnected:
		if e.Err != nil {
			return "* disconnected: " + e.Err.Error()
		}
		return "* disconnected"
	case client.Received:
		switch f := e.Frame.(type) {
		case protocol.Authenticated:
			return fmt.Sprintf("* authenticated as %d", f.UserID)
		case protocol.NewMessage:
			m := f.Message
			name := m.SenderName
			if name == "" {
				name = strconv.FormatUint(uint64(m.SenderID), 10)
			}
			return fmt.Sprintf("[%d] %s %s: %s", m.ID, m.CreatedAt.Format("15:04"), name, m.Content)
		case protocol.UserTyping:
			if f.IsTyping {
				return fmt.Sprintf("* user %d is typing", f.UserID)
			}
		case protocol.MessageRead:
			return fmt.Sprintf("* message %d read", f.MessageID)
		case protocol.Error:
			return fmt.Sprintf("! %s: %s", f.Code, f.Message)
		}
	}
	return ""
}

// scanLines 在独立 goroutine 中读取 r，阻塞的 Scan 不会拖住调用方。
// ctx 结束后该 goroutine 最多停在下一次 Scan 上，随进程退出。
func scanLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		done <- sc.Err()
	}()
	return lines, done
}

func readInput(ctx context.Context, r io.Reader, errw io.Writer, c *client.Client, projectID uint) error {
	lines, done := scanLines(ctx, r)
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case line = <-lines:
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var err error
		if rest, ok := strings.CutPrefix(line, "/read "); ok {
			id, perr := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
			if perr != nil {
				fmt.Fprintln(errw, "usage: /read <message id>")
				continue
			}
			err = c.MarkRead(projectID, uint(id))
		} else {
			c.SetDraft(projectID, line)
			err = c.Send(projectID, line)
		}
		if err != nil {
			fmt.Fprintln(errw, "! "+err.Error())
		}
	}
}
