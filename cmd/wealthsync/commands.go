package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/internal/orchestrator"
	"github.com/ajitpratap0/wealthsync/pkg/jobstore"
	"github.com/ajitpratap0/wealthsync/pkg/plugins"
)

const dateLayout = "2006-01-02"

func (a *app) newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, func(), error) {
	store, err := jobstore.Open(ctx, a.cfg.JobStore)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}
	manager := plugins.NewManager(a.cfg.Plugins.Dir, plugins.WithLogger(a.log))
	orch := orchestrator.New(a.cfg,
		orchestrator.WithPluginManager(manager),
		orchestrator.WithJobStore(store),
		orchestrator.WithLogger(a.log),
	)
	cleanup := func() {
		if err := orch.DisconnectAll(context.Background()); err != nil {
			a.log.Warn("disconnect failed", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			a.log.Warn("failed to close job store", zap.Error(err))
		}
	}
	return orch, cleanup, nil
}

type syncOutput struct {
	JobID       string         `json:"job_id"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Imported    int            `json:"imported"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	Errors      []string       `json:"errors,omitempty"`
	Sources     []sourceOutput `json:"sources"`
}

type sourceOutput struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Success  bool    `json:"success"`
	Fetched  int     `json:"fetched"`
	Imported int     `json:"imported"`
	Updated  int     `json:"updated"`
	Skipped  int     `json:"skipped"`
	Seconds  float64 `json:"duration_seconds"`
	Error    string  `json:"error,omitempty"`
}

func newSyncOutput(res *orchestrator.SyncResult) syncOutput {
	out := syncOutput{
		JobID:       res.JobID,
		Status:      res.Status(),
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
		Imported:    res.TotalImported,
		Updated:     res.TotalUpdated,
		Skipped:     res.TotalSkipped,
		Errors:      res.Errors,
		Sources:     make([]sourceOutput, 0, len(res.Results)),
	}
	for _, r := range res.Results {
		out.Sources = append(out.Sources, sourceOutput{
			ID:       r.SourceID,
			Type:     r.SourceType,
			Success:  r.Success,
			Fetched:  r.RecordsFetched,
			Imported: r.RecordsImported,
			Updated:  r.RecordsUpdated,
			Skipped:  r.RecordsSkipped,
			Seconds:  r.Duration.Seconds(),
			Error:    r.ErrorMessage,
		})
	}
	return out
}

func newSyncCmd(a *app) *cobra.Command {
	var (
		sources     []string
		since       string
		triggeredBy string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full sync across configured sources",
		Example: `  wealthsync sync
  wealthsync sync --source binance --source chase --since 2024-01-01
  wealthsync sync --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "json" {
				return fmt.Errorf("unknown output format %q", output)
			}
			opts := orchestrator.SyncOptions{Sources: sources, TriggeredBy: triggeredBy}
			if since != "" {
				t, err := time.Parse(dateLayout, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: expected YYYY-MM-DD", since)
				}
				opts.Since = t
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch, cleanup, err := a.newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res := orch.RunFullSync(ctx, opts)
			if err := writeSyncResult(cmd.OutOrStdout(), res, output); err != nil {
				return err
			}
			if !res.Success() {
				return fmt.Errorf("sync %s: %s", res.JobID, res.Status())
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "Sync only these source ids (repeatable)")
	cmd.Flags().StringVar(&since, "since", "", "Fetch transactions on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&triggeredBy, "triggered-by", jobstore.TriggeredManual, "Recorded as the job trigger")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json)")
	return cmd
}

func writeSyncResult(w io.Writer, res *orchestrator.SyncResult, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(newSyncOutput(res), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, res.Summary())
	return err
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Connect every enabled source and report its health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch, cleanup, err := a.newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			inits := orch.InitializeConnectors(ctx)
			health := orch.HealthCheckAll(ctx)

			ids := make([]string, 0, len(inits))
			for id := range inits {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			out := cmd.OutOrStdout()
			unhealthy := 0
			for _, id := range ids {
				if ir := inits[id]; !ir.OK {
					unhealthy++
					fmt.Fprintf(out, "%-20s FAIL  %s\n", id, ir.Message)
					continue
				}
				status := health[id]
				mark := "OK"
				if !status.OK {
					mark = "FAIL"
					unhealthy++
				}
				fmt.Fprintf(out, "%-20s %-4s  %s\n", id, mark, status.Message)
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d sources unhealthy", unhealthy, len(ids))
			}
			return nil
		},
	}
}

func newPluginsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect bank connector plugins",
	}

	manager := func() *plugins.Manager {
		return plugins.NewManager(a.cfg.Plugins.Dir, plugins.WithLogger(a.log))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := manager().ListPlugins(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "No plugins found in %s\n", a.cfg.Plugins.Dir)
				return nil
			}
			for _, md := range list {
				caps := make([]string, len(md.Capabilities))
				for i, c := range md.Capabilities {
					caps[i] = string(c)
				}
				fmt.Fprintf(out, "%-16s %-10s %s [%s]\n", md.ID, md.Version, md.Name, strings.Join(caps, ", "))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info <plugin-id>",
		Short: "Show plugin metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := manager().PluginInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			md := pkg.Metadata
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:             %s\n", md.ID)
			fmt.Fprintf(out, "Name:           %s\n", md.Name)
			fmt.Fprintf(out, "Version:        %s\n", md.Version)
			fmt.Fprintf(out, "Author:         %s\n", md.Author)
			fmt.Fprintf(out, "Description:    %s\n", md.Description)
			fmt.Fprintf(out, "Authentication: %s\n", md.AuthenticationType)
			fmt.Fprintf(out, "Required:       %s\n", strings.Join(md.RequiredFields, ", "))
			fmt.Fprintf(out, "Countries:      %s\n", strings.Join(md.SupportedCountries, ", "))
			fmt.Fprintf(out, "Directory:      %s\n", pkg.Dir)
			fmt.Fprintf(out, "State:          %s\n", pkg.State)
			if len(pkg.DroppedCapabilities) > 0 {
				fmt.Fprintf(out, "Unknown capabilities: %s\n", strings.Join(pkg.DroppedCapabilities, ", "))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <plugin-id>",
		Short: "Check a plugin's layout and run the safety scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, issues := manager().ValidatePlugin(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			if ok {
				fmt.Fprintf(out, "%s: valid\n", args[0])
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return fmt.Errorf("plugin %s failed validation with %d issue(s)", args[0], len(issues))
		},
	})
	return cmd
}
