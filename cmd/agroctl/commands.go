package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mw "github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/middleware"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/pipeline"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/provider/factory"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// render prints rows as a table, or v as JSON when --json is set.
func (c *cli) render(header table.Row, rows []table.Row, v any) error {
	if c.v.GetBool("json") {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := databaseURL(c.v)
			if err != nil {
				return err
			}
			if err := c.b.migrate(u, c.v.GetString("migrations-dir")); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := databaseURL(c.v)
			if err != nil {
				return err
			}
			version, dirty, err := c.b.version(u, c.v.GetString("migrations-dir"))
			if err != nil {
				return err
			}
			return c.render(table.Row{"Version", "Dirty"}, []table.Row{{version, dirty}},
				map[string]any{"version": version, "dirty": dirty})
		},
	})
	return cmd
}

func (c *cli) backfillCmd() *cobra.Command {
	var (
		weeks int
		end   string
		key   string
	)
	cmd := &cobra.Command{
		Use:   "backfill <aoi-id>",
		Short: "Enqueue a backfill of the last N weeks for an AOI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aoiID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("aoi id: %w", err)
			}
			if weeks < 1 || weeks > jobs.MaxBackfillWeeks {
				return fmt.Errorf("--weeks must be between 1 and %d", jobs.MaxBackfillWeeks)
			}
			var endWeek *isoweek.Week
			if end != "" {
				w, err := isoweek.Parse(end)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				endWeek = &w
			}

			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			aoi, err := st.GetAOI(ctx, aoiID)
			if err != nil {
				return fmt.Errorf("loading aoi %s: %w", aoiID, err)
			}
			pub, closePub, err := c.b.openPublisher(ctx, c.v)
			if err != nil {
				return err
			}
			defer closePub()

			job, created, err := jobs.NewEnqueuer(st, pub, nil).Enqueue(ctx, pipeline.BackfillParams(pipeline.BackfillRequest{
				TenantID:       aoi.TenantID,
				AOIID:          aoi.ID,
				Weeks:          weeks,
				End:            endWeek,
				IdempotencyKey: key,
			}))
			if err != nil {
				return err
			}
			state := "reused"
			if created {
				state = "created"
			}
			return c.render(table.Row{"Job", "AOI", "Weeks", "Status", "Result"},
				[]table.Row{{job.ID, aoi.Name, weeks, job.Status, state}},
				map[string]any{"job": job, "created": created})
		},
	}
	cmd.Flags().IntVar(&weeks, "weeks", 4, "number of weeks to backfill")
	cmd.Flags().StringVar(&end, "end", "", "last week to include, e.g. 2024-W19 (default: last complete week)")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key")
	return cmd
}

func (c *cli) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and retry jobs"}
	cmd.AddCommand(c.jobsListCmd(), c.jobsGetCmd(), c.jobsRetryCmd(), c.jobsStaleCmd())
	return cmd
}

func jobRows(list []*models.Job) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, j := range list {
		aoi := ""
		if j.AOIID != nil {
			aoi = j.AOIID.String()
		}
		errMsg := ""
		if j.ErrorMessage != nil {
			errMsg = *j.ErrorMessage
		}
		rows = append(rows, table.Row{j.ID, j.Type, j.Status, aoi, j.UpdatedAt.Format(time.RFC3339), errMsg})
	}
	return rows
}

var jobHeader = table.Row{"ID", "Type", "Status", "AOI", "Updated", "Error"}

func (c *cli) jobsListCmd() *cobra.Command {
	var (
		status, jobType, aoi string
		page, limit          int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.JobFilter{
				Status: strings.ToUpper(status),
				Type:   models.JobType(strings.ToUpper(jobType)),
				Page:   page,
				Limit:  limit,
			}
			if aoi != "" {
				id, err := uuid.Parse(aoi)
				if err != nil {
					return fmt.Errorf("--aoi: %w", err)
				}
				filter.AOIID = &id
			}
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			list, total, err := st.ListJobs(ctx, filter)
			if err != nil {
				return err
			}
			if err := c.render(jobHeader, jobRows(list), map[string]any{"jobs": list, "total": total}); err != nil {
				return err
			}
			if !c.v.GetBool("json") {
				fmt.Fprintf(c.out, "%d of %d jobs\n", len(list), total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "PENDING, RUNNING, DONE or FAILED")
	cmd.Flags().StringVar(&jobType, "type", "", "job type filter")
	cmd.Flags().StringVar(&aoi, "aoi", "", "AOI id filter")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size (max 100)")
	return cmd
}

func (c *cli) jobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job with its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("job id: %w", err)
			}
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			job, err := st.GetJob(ctx, id)
			if err != nil {
				return fmt.Errorf("loading job %s: %w", id, err)
			}
			payload, _ := json.Marshal(job.Payload)
			rows := append(jobRows([]*models.Job{job}), table.Row{"payload", string(payload)})
			return c.render(jobHeader, rows, job)
		},
	}
}

func (c *cli) jobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-run a DONE or FAILED job as a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("job id: %w", err)
			}
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			pub, closePub, err := c.b.openPublisher(ctx, c.v)
			if err != nil {
				return err
			}
			defer closePub()
			job, err := jobs.NewEnqueuer(st, pub, nil).Retry(ctx, id)
			if err != nil {
				return err
			}
			return c.render(jobHeader, jobRows([]*models.Job{job}), job)
		},
	}
}

func (c *cli) jobsStaleCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List RUNNING jobs that stopped making progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			list, _, err := st.ListJobs(ctx, store.JobFilter{
				Status:        models.JobStatusRunning,
				RunningBefore: time.Now().Add(-olderThan),
				Limit:         100,
			})
			if err != nil {
				return err
			}
			return c.render(jobHeader, jobRows(list), list)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "minimum time since the last status change")
	return cmd
}

func (c *cli) aoisCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "aois", Short: "Inspect areas of interest"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active AOIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			list, err := st.ListActiveAOIs(ctx)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(list))
			for _, a := range list {
				rows = append(rows, table.Row{a.ID, a.TenantID, a.Name, fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3])})
			}
			return c.render(table.Row{"ID", "Tenant", "Name", "BBox"}, rows, list)
		},
	})
	return cmd
}

func (c *cli) breakersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "breakers",
		Short: "Show the shared circuit breaker state of every provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bs, closeBreakers, err := c.b.openBreakers(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeBreakers()
			states, err := breaker.Snapshot(ctx, bs, factory.Names())
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(states))
			for _, s := range states {
				opened := ""
				if s.OpenedAt != nil {
					opened = s.OpenedAt.Format(time.RFC3339)
				}
				rows = append(rows, table.Row{s.Provider, s.Status, s.ConsecutiveFailures, opened})
			}
			return c.render(table.Row{"Provider", "State", "Failures", "Opened"}, rows, states)
		},
	}
}

func (c *cli) keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage operator API keys"}

	var (
		name   string
		scopes []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			for _, s := range scopes {
				if !models.ValidScope(s) {
					return fmt.Errorf("unknown scope %q", s)
				}
			}
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			raw, key, err := mw.NewOperatorKey(name, scopes)
			if err != nil {
				return err
			}
			if err := st.CreateOperatorKey(ctx, key); err != nil {
				return err
			}
			return c.render(table.Row{"ID", "Name", "Scopes", "Key"},
				[]table.Row{{key.ID, key.Name, strings.Join(key.Scopes, ","), raw}},
				map[string]any{"id": key.ID, "name": key.Name, "scopes": key.Scopes, "key": raw})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	create.Flags().StringSliceVar(&scopes, "scope", []string{models.ScopeRead}, "scopes: read, operate, admin")

	list := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			keys, err := st.ListOperatorKeys(ctx)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(keys))
			for _, k := range keys {
				used := "never"
				if k.LastUsedAt != nil {
					used = k.LastUsedAt.Format(time.RFC3339)
				}
				rows = append(rows, table.Row{k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), used})
			}
			return c.render(table.Row{"ID", "Name", "Prefix", "Scopes", "Last Used"}, rows, keys)
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("key id: %w", err)
			}
			ctx := cmd.Context()
			st, closeStore, err := c.b.openStore(ctx, c.v)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := st.RevokeOperatorKey(ctx, id); err != nil {
				return fmt.Errorf("revoking key %s: %w", id, err)
			}
			fmt.Fprintf(c.out, "key %s revoked\n", id)
			return nil
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}
