package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/nailguard/internal/config"
	"github.com/hyperengineering/nailguard/pkg/companion"
)

var companionCmd = &cobra.Command{
	Use:   "companion",
	Short: "Run an interactive companion that logs bites and syncs them",
	Long: `Run a companion device session against a nailguard server.

Bites are written to a durable outbox and delivered when the server is
reachable. Commands are read from stdin, one per line:

  bite     log a bite observed now
  sync     flush the outbox and wait for the result
  status   print the session state
  quit     persist pending work and exit`,
	Args: cobra.NoArgs,
	RunE: runCompanion,
}

func runCompanion(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log))

	client, err := newCompanionClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("companion close error", "error", err)
		}
	}()

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start companion: %w", err)
	}

	return runCompanionLoop(ctx, client, cmd.InOrStdin(), cmd.OutOrStdout())
}

// newCompanionClient wires the outbox, transport and prober from config.
func newCompanionClient(cfg *config.Config) (*companion.Client, error) {
	cc := cfg.Companion

	sourceID := cc.SourceID
	if sourceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve source id: %w", err)
		}
		sourceID = host
	}

	outbox, err := companion.OpenOutbox(cc.OutboxBackend, cc.OutboxPath)
	if err != nil {
		return nil, err
	}

	monitor := companion.NewMonitor()
	transport := companion.NewHTTPTransport(cc.ServerURL, cfg.Auth.APIKey, sourceID, monitor)
	prober := companion.NewProber(transport, monitor,
		time.Duration(cc.ProbeInterval), time.Duration(cc.SendTimeout))

	slog.Info("companion initialized",
		"server", cc.ServerURL,
		"source_id", sourceID,
		"outbox", cc.OutboxBackend,
		"outbox_path", cc.OutboxPath,
	)

	return companion.New(companion.Config{
		SourceID:       sourceID,
		BatchLimit:     cc.BatchLimit,
		SendTimeout:    time.Duration(cc.SendTimeout),
		MailboxSize:    cc.MailboxSize,
		GuaranteedEcho: cc.GuaranteedEcho,
	}, outbox, transport, monitor, prober), nil
}

// runCompanionLoop reads commands from in until quit, EOF or cancellation.
func runCompanionLoop(ctx context.Context, client *companion.Client, in io.Reader, out io.Writer) error {
	lines := make(chan string)
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
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := handleCompanionCommand(ctx, client, strings.TrimSpace(line), out)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func handleCompanionCommand(ctx context.Context, client *companion.Client, line string, out io.Writer) (bool, error) {
	switch strings.ToLower(line) {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "bite":
		ev, err := client.LogBite(ctx)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false, nil
		}
		fmt.Fprintf(out, "logged %s at %s\n", ev.ID, ev.Timestamp.Format(time.RFC3339))
	case "sync":
		res := client.Sync(ctx)
		if res.Err != nil {
			fmt.Fprintf(out, "sync failed: %v\n", res.Err)
			return false, nil
		}
		fmt.Fprintf(out, "synced %d events, today %d\n", res.Sent, res.TodayCount)
	case "status":
		st, err := client.State(ctx)
		if err != nil {
			return false, err
		}
		printState(out, st)
	case "activate":
		if err := client.Activate(ctx); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	default:
		fmt.Fprintf(out, "unknown command %q (bite, sync, status, activate, quit)\n", line)
	}
	return false, nil
}

func printState(out io.Writer, st companion.State) {
	w := newTabWriter(out)
	fmt.Fprintf(w, "Activation:\t%s\n", st.Activation)
	fmt.Fprintf(w, "Reachable:\t%t\n", st.Reachable)
	fmt.Fprintf(w, "Today:\t%d\n", st.AuthoritativeCount)
	fmt.Fprintf(w, "Pending:\t%d\n", st.Pending)
	fmt.Fprintf(w, "Flushing:\t%t\n", st.InFlightFlush)
	if !st.LastSyncAt.IsZero() {
		fmt.Fprintf(w, "Last sync:\t%s\n", st.LastSyncAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", st.LastError)
	}
	w.Flush()
}
