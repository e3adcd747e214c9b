package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hostfleet/internal/constants"
	"hostfleet/internal/db"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/server"
	"hostfleet/internal/types"
)

// TimelineCommand creates the timeline command and its subcommands.
func TimelineCommand(env *Env) *cobra.Command {
	var (
		familyArg  string
		pkg        string
		identifier string
		operation  string
		batch      string
		sinceArg   string
		untilArg   string
		limit      int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show recorded operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}

			f := db.Filter{Package: pkg, Identifier: identifier, BatchID: batch, Limit: limit}
			if familyArg != "" {
				if f.Family, err = types.ParseFamily(familyArg); err != nil {
					return apperrors.InvalidInput(err.Error())
				}
			}
			if operation != "" {
				op, ok := types.ParseOperation(operation)
				if !ok {
					return apperrors.InvalidInput("unknown operation " + operation)
				}
				f.Operation = op
			}
			now := time.Now()
			if sinceArg != "" {
				if f.Since, err = server.ParseTime(sinceArg, now); err != nil {
					return apperrors.InvalidInput("invalid --since: " + sinceArg)
				}
			}
			if untilArg != "" {
				if f.Until, err = server.ParseTime(untilArg, now); err != nil {
					return apperrors.InvalidInput("invalid --until: " + untilArg)
				}
			}

			entries, err := rt.Timeline.Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []types.TimelineEntry{}
				}
				return writeJSON(env.Out, entries)
			}
			return printTimeline(env, entries)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&familyArg, "family", "f", "", "Family (web, worker, scheduler, service)")
	flags.StringVar(&pkg, "package", "", "Service package")
	flags.StringVar(&identifier, "id", "", "Instance identifier")
	flags.StringVar(&operation, "operation", "", "Operation")
	flags.StringVar(&batch, "batch", "", "Batch id")
	flags.StringVar(&sinceArg, "since", "", "RFC 3339 time or duration ago (e.g. 24h)")
	flags.StringVar(&untilArg, "until", "", "RFC 3339 time or duration ago")
	flags.IntVarP(&limit, "limit", "n", constants.DefaultTimelineLimit, "Maximum entries (0 for all)")
	flags.BoolVar(&asJSON, "json", false, "Print JSON")

	cmd.AddCommand(lastKnownCommand(env))
	return cmd
}

func printTimeline(env *Env, entries []types.TimelineEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(env.Out, "No entries")
		return nil
	}
	w := newTable(env.Out)
	fmt.Fprintln(w, "ID\tWHEN\tOPERATION\tINSTANCE\tOUTCOME\tIMAGE\tDETAIL")
	for _, e := range entries {
		image := "-"
		if e.Image != "" {
			image = e.Image + ":" + e.Tag
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, since(e.Timestamp), e.Operation, e.Instance.String(), outcomeLabel(e.Outcome), image, truncate(e.Detail, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func lastKnownCommand(env *Env) *cobra.Command {
	var (
		familyArg string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "last-known",
		Short: "List instances whose latest recorded operation left them deployed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			var family types.Family
			if familyArg != "" {
				if family, err = types.ParseFamily(familyArg); err != nil {
					return apperrors.InvalidInput(err.Error())
				}
			}

			refs, err := rt.Timeline.LastKnown(cmd.Context(), family)
			if err != nil {
				return err
			}
			if asJSON {
				if refs == nil {
					refs = []types.InstanceRef{}
				}
				return writeJSON(env.Out, refs)
			}
			if len(refs) == 0 {
				fmt.Fprintln(env.Out, "No deployed instances recorded")
				return nil
			}
			for _, r := range refs {
				fmt.Fprintln(env.Out, r.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&familyArg, "family", "f", "", "Family (web, worker, scheduler, service)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
