package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/nailguard/internal/config"
	"github.com/hyperengineering/nailguard/internal/merge"
	"github.com/hyperengineering/nailguard/internal/store"
)

var (
	eventsDBOverride string
	eventsJSONOutput bool
	eventsFrom       string
	eventsTo         string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the authoritative event store",
	Long:  "Read bite counts and events directly from the store without running the server.",
}

var eventsTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Print the number of bites in the current local day",
	Args:  cobra.NoArgs,
	RunE:  runEventsToday,
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events in a time range",
	Long: `List events in [from, to), oldest first.

Bounds are dates (2006-01-02, local midnight in the configured timezone) or
RFC 3339 timestamps. Both default to the current local day.`,
	Args: cobra.NoArgs,
	RunE: runEventsList,
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate store statistics",
	Args:  cobra.NoArgs,
	RunE:  runEventsStats,
}

func init() {
	eventsCmd.PersistentFlags().StringVar(&eventsDBOverride, "db", "",
		"SQLite database path (overrides config and NAILGUARD_DB_PATH)")
	eventsCmd.PersistentFlags().BoolVar(&eventsJSONOutput, "json", false,
		"Output in JSON format")

	eventsListCmd.Flags().StringVar(&eventsFrom, "from", "", "Range start (inclusive)")
	eventsListCmd.Flags().StringVar(&eventsTo, "to", "", "Range end (exclusive)")

	eventsCmd.AddCommand(eventsTodayCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsStatsCmd)
}

// openEndpoint loads offline config and opens the store it names.
// The caller closes the returned store.
func openEndpoint(cmd *cobra.Command) (*merge.Endpoint, store.Store, error) {
	cfg, err := config.LoadOffline()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	driver, path := cfg.Database.Driver, cfg.Database.Path
	if eventsDBOverride != "" {
		driver, path = "sqlite", eventsDBOverride
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	s, err := store.Open(cmd.Context(), driver, path, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return merge.New(s, merge.WithLocation(loc)), s, nil
}

func runEventsToday(cmd *cobra.Command, args []string) error {
	e, s, err := openEndpoint(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	count, err := e.TodayCount(cmd.Context())
	if err != nil {
		return err
	}
	start, _ := e.Today()

	out := cmd.OutOrStdout()
	if eventsJSONOutput {
		return printJSON(out, map[string]any{
			"date":       start.Format(time.DateOnly),
			"todayCount": count,
		})
	}
	fmt.Fprintf(out, "%s: %d\n", start.Format(time.DateOnly), count)
	return nil
}

func runEventsList(cmd *cobra.Command, args []string) error {
	e, s, err := openEndpoint(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	dayStart, dayEnd := e.Today()
	from, err := parseBound(eventsFrom, dayStart, e.Location())
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseBound(eventsTo, dayEnd, e.Location())
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	if !to.After(from) {
		return fmt.Errorf("--to must be after --from")
	}

	events, err := e.ListRange(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if eventsJSONOutput {
		return printJSON(out, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No events found.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tTIMESTAMP")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\n", ev.ID, ev.Timestamp.In(e.Location()).Format(time.RFC3339Nano))
	}
	return w.Flush()
}

func runEventsStats(cmd *cobra.Command, args []string) error {
	e, s, err := openEndpoint(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := e.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if eventsJSONOutput {
		return printJSON(out, stats)
	}

	w := newTabWriter(out)
	fmt.Fprintf(w, "Events:\t%d\n", stats.EventCount)
	fmt.Fprintf(w, "First event:\t%s\n", formatTime(stats.FirstEvent))
	fmt.Fprintf(w, "Last event:\t%s\n", formatTime(stats.LastEvent))
	fmt.Fprintf(w, "Last backup:\t%s\n", formatTime(stats.LastBackup))
	return w.Flush()
}

// parseBound accepts a date or an RFC 3339 timestamp. Empty yields def.
func parseBound(s string, def time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
