package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <test-id>",
	Short: "Export raw event data",
	Long: `Export raw event data in CSV or JSON format.

Examples:
  agt export 3f2a... --format csv > hero-data.csv
  agt export 3f2a... --format json > hero-data.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withApp(cmd.Context(), func(a *app) error {
		ctx := cmd.Context()
		if _, err := a.store.GetTest(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to get test: %w", err)
		}

		events, err := a.store.ListEvents(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), events)
		}
		return exportJSON(cmd.OutOrStdout(), events)
	})
}

func exportCSV(out io.Writer, events []*store.Event) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "variant_id", "event_type", "session_id", "device", "time_on_page"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.VariantID,
			string(e.Type),
			e.SessionID,
			e.Device,
			strconv.FormatFloat(e.TimeOnPage, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Events []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Timestamp  int64          `json:"timestamp"`
	VariantID  string         `json:"variant_id"`
	EventType  string         `json:"event_type"`
	SessionID  string         `json:"session_id"`
	Device     string         `json:"device,omitempty"`
	TimeOnPage float64        `json:"time_on_page,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func exportJSON(out io.Writer, events []*store.Event) error {
	export := jsonExport{
		Events: make([]jsonEvent, len(events)),
	}

	for i, e := range events {
		export.Events[i] = jsonEvent{
			Timestamp:  e.CreatedAt.Unix(),
			VariantID:  e.VariantID,
			EventType:  string(e.Type),
			SessionID:  e.SessionID,
			Device:     e.Device,
			TimeOnPage: e.TimeOnPage,
			Payload:    e.Payload,
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
