package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func clientFrom(cmd *cobra.Command) (*adminClient, error) {
	baseURL, err := cmd.Flags().GetString("url")
	if err != nil {
		return nil, err
	}
	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return nil, err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}
	return newAdminClient(baseURL, token, timeout), nil
}

// call builds a RunE that sends one request and prints the response.
func call(method, path string, build func(cmd *cobra.Command, args []string) (url.Values, any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := clientFrom(cmd)
		if err != nil {
			return err
		}

		var query url.Values
		var body any
		if build != nil {
			if query, body, err = build(cmd, args); err != nil {
				return err
			}
		}

		resolved := path
		if len(args) > 0 && path[len(path)-1] == '/' {
			resolved += url.PathEscape(args[0])
		}

		data, err := client.do(cmd.Context(), method, resolved, query, body)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	}
}

func printJSON(w io.Writer, data []byte) error {
	if len(data) == 0 {
		_, err := fmt.Fprintln(w, "OK")
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

func symbolQuery(_ *cobra.Command, args []string) (url.Values, any, error) {
	return url.Values{"symbol": {args[0]}}, nil, nil
}

func newCommands() []*cobra.Command {
	addSymbol := &cobra.Command{
		Use:   "add-symbol SYMBOL",
		Short: "Register a symbol listed on CBOE",
		Args:  cobra.ExactArgs(1),
		RunE: call(http.MethodPost, "/v1/admin/symbols", func(cmd *cobra.Command, args []string) (url.Values, any, error) {
			enqueue, err := cmd.Flags().GetBool("enqueue")
			if err != nil {
				return nil, nil, err
			}
			return nil, map[string]any{"symbol": args[0], "enqueue": enqueue}, nil
		}),
	}
	addSymbol.Flags().Bool("enqueue", true, "Queue the new symbol for the next drain")

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired and stale strikes",
		Args:  cobra.NoArgs,
		RunE: call(http.MethodPost, "/v1/admin/cleanup", func(cmd *cobra.Command, _ []string) (url.Values, any, error) {
			start, err := cmd.Flags().GetString("start")
			if err != nil {
				return nil, nil, err
			}
			end, err := cmd.Flags().GetString("end")
			if err != nil {
				return nil, nil, err
			}
			query := url.Values{}
			if start != "" {
				query.Set("start", start)
			}
			if end != "" {
				query.Set("end", end)
			}
			return query, nil, nil
		}),
	}
	cleanup.Flags().String("start", "", "First expiration date to remove (YYMMDD)")
	cleanup.Flags().String("end", "", "Last expiration date to remove (YYMMDD)")

	logs := &cobra.Command{
		Use:   "logs",
		Short: "Show the most recent schedule log entries",
		Args:  cobra.NoArgs,
		RunE: call(http.MethodGet, "/v1/admin/logs", func(cmd *cobra.Command, _ []string) (url.Values, any, error) {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return nil, nil, err
			}
			return url.Values{"limit": {strconv.Itoa(limit)}}, nil, nil
		}),
	}
	logs.Flags().Int("limit", 50, "Number of entries to show")

	return []*cobra.Command{
		addSymbol,
		{
			Use:   "sync SYMBOL",
			Short: "Fetch and store the option chain of one symbol now",
			Args:  cobra.ExactArgs(1),
			RunE:  call(http.MethodPost, "/v1/sync", symbolQuery),
		},
		{
			Use:   "sync-status SYMBOL",
			Short: "Show the last sync outcome of a symbol",
			Args:  cobra.ExactArgs(1),
			RunE:  call(http.MethodGet, "/v1/admin/sync/", nil),
		},
		{
			Use:   "refill",
			Short: "Queue every registered symbol",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodPost, "/v1/admin/refill", nil),
		},
		{
			Use:   "cancel-refill",
			Short: "Skip the next scheduled refill",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodDelete, "/v1/admin/refill", nil),
		},
		{
			Use:   "drain",
			Short: "Process the next batch and keep draining",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodPost, "/v1/admin/drain", nil),
		},
		{
			Use:   "force-drain",
			Short: "Process one batch immediately",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodPost, "/v1/admin/drain/force", nil),
		},
		{
			Use:   "cancel-drain",
			Short: "Cancel the pending drain",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodDelete, "/v1/admin/drain", nil),
		},
		{
			Use:   "buffer",
			Short: "Show buffer statistics",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodGet, "/v1/admin/buffer", nil),
		},
		{
			Use:   "buffer-contents",
			Short: "List the queued symbols",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodGet, "/v1/admin/buffer/contents", nil),
		},
		{
			Use:   "enqueue-missing",
			Short: "Queue registered symbols that have no stored options",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodPost, "/v1/admin/buffer/missing", nil),
		},
		{
			Use:   "clear-buffer",
			Short: "Empty the buffer",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodDelete, "/v1/admin/buffer", nil),
		},
		{
			Use:   "schedule",
			Short: "Show the refill schedule and next runs",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodGet, "/v1/admin/schedule", nil),
		},
		{
			Use:       "set-schedule SCHEDULE",
			Short:     "Change the refill schedule",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"never", "every_15_minutes", "every_30_minutes", "hourly", "twicedaily", "daily"},
			RunE: call(http.MethodPut, "/v1/admin/schedule", func(_ *cobra.Command, args []string) (url.Values, any, error) {
				return nil, map[string]string{"schedule": args[0]}, nil
			}),
		},
		{
			Use:   "batch-size SIZE",
			Short: "Change how many symbols a drain processes",
			Args:  cobra.ExactArgs(1),
			RunE: call(http.MethodPut, "/v1/admin/batch-size", func(_ *cobra.Command, args []string) (url.Values, any, error) {
				size, err := strconv.Atoi(args[0])
				if err != nil {
					return nil, nil, fmt.Errorf("invalid batch size %q: %w", args[0], err)
				}
				return nil, map[string]int{"batch_size": size}, nil
			}),
		},
		logs,
		{
			Use:   "clear-logs",
			Short: "Delete the schedule log",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodDelete, "/v1/admin/logs", nil),
		},
		cleanup,
		{
			Use:   "cleanup-stats",
			Short: "Show stored option counts per expiration",
			Args:  cobra.NoArgs,
			RunE:  call(http.MethodGet, "/v1/admin/cleanup/stats", nil),
		},
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "radarctl",
		Short:         "Operate a running options radar",
		Long:          `radarctl drives the admin API of an options radar server: symbols, syncs, the buffer, schedules and cleanup.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("url", "u", envOr("RADAR_URL", "http://localhost:8080"), "Base URL of the radar server")
	root.PersistentFlags().StringP("token", "t", os.Getenv("ADMIN_TOKEN"), "Admin token, defaults to $ADMIN_TOKEN")
	root.PersistentFlags().Duration("timeout", 2*time.Minute, "Request timeout")
	root.AddCommand(newCommands()...)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("radarctl: %v", err)
	}
}
