// Command chat is a terminal client for the batch assistant. It talks over
// the persistent channel when available and falls back to request/response.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/batch-assistant/internal/config"
	"github.com/ashureev/batch-assistant/internal/conversation"
	"github.com/ashureev/batch-assistant/internal/eventlog"
	"github.com/ashureev/batch-assistant/internal/transport"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const quitCommand = ":q"

type options struct {
	socketURL string
	chatURL   string
	noSocket  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "chat",
		Short:        "Chat with the batch assistant",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ws-url") {
				cfg.Assistant.SocketURL = opts.socketURL
			}
			if cmd.Flags().Changed("http-url") {
				cfg.Assistant.ChatURL = opts.chatURL
			}
			if opts.noSocket {
				cfg.Assistant.DisableSocket = true
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.socketURL, "ws-url", "", "persistent channel endpoint (overrides ASSISTANT_WS_URL)")
	cmd.Flags().StringVar(&opts.chatURL, "http-url", "", "request/response endpoint (overrides ASSISTANT_HTTP_URL)")
	cmd.Flags().BoolVar(&opts.noSocket, "no-socket", false, "skip the persistent channel and use request/response only")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	sessionID := uuid.NewString()
	events, err := eventlog.New(eventlog.Config{
		Enabled:   cfg.EventLog.Enabled,
		Dir:       cfg.EventLog.Dir,
		QueueSize: cfg.EventLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize event log: %w", err)
	}
	defer func() {
		if closeErr := events.Close(); closeErr != nil {
			logger.Warn("Failed to close event log", "error", closeErr)
		}
	}()

	sel := newSelector(cfg, logger)
	defer func() { _ = sel.Close() }()

	ctrl := conversation.NewController(sel, conversation.Options{
		SessionID:    sessionID,
		Greeting:     cfg.Assistant.Greeting,
		ReplyTimeout: cfg.Assistant.ReplyTimeout,
		EventLog:     events,
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("Chat session started", "session_id", sessionID, "mode", sel.Mode())
	sel.Start(ctx, ctrl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return renderLoop(gctx, ctrl, out)
	})
	g.Go(func() error {
		defer cancel()
		return inputLoop(gctx, ctrl, in, logger)
	})
	return g.Wait()
}

func newSelector(cfg *config.Config, logger *slog.Logger) *transport.Selector {
	caller := transport.NewHTTPChannel(transport.HTTPChannelConfig{
		Endpoint: cfg.Assistant.ChatURL,
		Timeout:  cfg.Assistant.RequestTimeout,
	}, &http.Client{}, logger)

	var socket transport.PersistentChannel
	if !cfg.Assistant.DisableSocket {
		socket = transport.NewSocket(transport.SocketConfig{
			URL:              cfg.Assistant.SocketURL,
			HandshakeTimeout: cfg.Assistant.HandshakeTimeout,
		}, logger)
	}

	opts := transport.SelectorOptions{Logger: logger}
	if cfg.Reconnect.Enabled {
		opts.Reconnect = &transport.ReconnectPolicy{
			InitialInterval: cfg.Reconnect.InitialInterval,
			MaxInterval:     cfg.Reconnect.MaxInterval,
			MaxElapsed:      cfg.Reconnect.MaxElapsed,
		}
	}
	return transport.NewSelector(socket, caller, opts)
}

func renderLoop(ctx context.Context, ctrl *conversation.Controller, out io.Writer) error {
	changes, stopWatching := ctrl.Watch()
	defer stopWatching()

	r := newRenderer(out)
	r.render(ctrl.Snapshot())
	for {
		select {
		case <-ctx.Done():
			r.render(ctrl.Snapshot())
			return nil
		case <-changes:
			r.render(ctrl.Snapshot())
		}
	}
}

func inputLoop(ctx context.Context, ctrl *conversation.Controller, in io.Reader, logger *slog.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == quitCommand {
				return nil
			}
			err := ctrl.Submit(ctx, line)
			switch {
			case errors.Is(err, conversation.ErrEmptyMessage):
			case errors.Is(err, conversation.ErrTurnInFlight):
				fmt.Fprintln(os.Stderr, "still waiting for the previous reply")
			case err != nil:
				logger.Error("Failed to submit message", "error", err)
			}
		}
	}
}
