package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hostfleet/internal/db"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

// ImageCommands creates the image and alias commands.
func ImageCommands(env *Env) []*cobra.Command {
	return []*cobra.Command{
		imageListCommand(env),
		imagePullCommand(env),
		imageRemoveCommand(env),
		imagePruneCommand(env),
		imageAliasesCommand(env),
		imageHistoryCommand(env),
		imageSetCurrentCommand(env),
		imageRollbackCommand(env),
	}
}

// splitReference splits image[:tag]. A colon before the last slash belongs
// to a registry port.
func splitReference(ref string) (string, string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, ""
}

func imageListCommand(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "ls [reference]",
		Short:   "List local images, marking the CURRENT and ROLLBACK aliases",
		Aliases: []string{"list"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			reference := rt.Config.Image.Name
			if len(args) == 1 {
				reference = args[0]
			}
			images, err := rt.Podman.Images(cmd.Context(), reference)
			if err != nil {
				return err
			}
			if asJSON {
				if images == nil {
					images = []types.Image{}
				}
				return writeJSON(env.Out, images)
			}

			aliases, err := rt.Aliases.Aliases(cmd.Context())
			if err != nil {
				return err
			}
			marks := make(map[string][]string)
			for _, a := range aliases {
				marks[a.Reference()] = append(marks[a.Reference()], a.Alias)
			}

			w := newTable(env.Out)
			fmt.Fprintln(w, "REPOSITORY\tTAG\tID\tCREATED\tALIAS")
			for _, img := range images {
				alias := strings.Join(marks[img.Repository+":"+img.Tag], ",")
				if alias != "" {
					alias = green(alias)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", img.Repository, img.Tag, img.ID, img.Created, alias)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func imagePullCommand(env *Env) *cobra.Command {
	var setCurrent bool
	cmd := &cobra.Command{
		Use:   "pull [image[:tag]]",
		Short: "Pull an image (default: the configured image and tag)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			image, tag := rt.Config.Image.Name, rt.Config.Image.Tag
			if len(args) == 1 {
				name, t := splitReference(args[0])
				image = name
				if t != "" {
					tag = t
				}
			}
			if image, tag, err = rt.Aliases.ResolveTag(cmd.Context(), image, tag); err != nil {
				return err
			}

			ref := image + ":" + tag
			fmt.Fprintf(env.Err, "Pulling %s\n", ref)
			if err := rt.Podman.Pull(cmd.Context(), ref); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "%s %s\n", green("pulled"), ref)

			if setCurrent {
				return setCurrentAlias(cmd, env, rt, image, tag)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&setCurrent, "set-current", false, "Point the CURRENT alias at the pulled image")
	return cmd
}

func imageRemoveCommand(env *Env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm <image[:tag]>...",
		Short: "Remove local images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			for _, ref := range args {
				if err := rt.Podman.RemoveImage(cmd.Context(), ref, force); err != nil {
					return err
				}
				fmt.Fprintf(env.Out, "%s %s\n", green("removed"), ref)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Remove images used by containers")
	return cmd
}

func imagePruneCommand(env *Env) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove dangling images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			out, err := rt.Podman.PruneImages(cmd.Context(), all)
			if err != nil {
				return err
			}
			removed := len(strings.Fields(out))
			fmt.Fprintf(env.Out, "Removed %d image(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Remove every unused image")
	return cmd
}

func imageAliasesCommand(env *Env) *cobra.Command {
	var (
		events bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Show the CURRENT and ROLLBACK image aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			aliases, err := rt.Aliases.Aliases(cmd.Context())
			if err != nil {
				return err
			}
			w := newTable(env.Out)
			fmt.Fprintln(w, "ALIAS\tIMAGE\tSET")
			if len(aliases) == 0 {
				fmt.Fprintln(w, "-\t(none)\t-")
			}
			for _, a := range aliases {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Alias, a.Reference(), since(a.SetAt))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !events {
				return nil
			}

			list, err := rt.Aliases.Events(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Out)
			w = newTable(env.Out)
			fmt.Fprintln(w, "WHEN\tACTION\tIMAGE\tDETAIL")
			for _, e := range list {
				fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\n", since(e.CreatedAt), e.Action, e.Image, e.Tag, e.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&events, "events", false, "Also list alias changes")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum events")
	return cmd
}

func imageHistoryCommand(env *Env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List image tags that were successfully deployed, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			refs, err := rt.Aliases.PreviousTags(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				fmt.Fprintln(env.Out, "No deployed images recorded")
				return nil
			}
			w := newTable(env.Out)
			fmt.Fprintln(w, "IMAGE\tLAST USED")
			for _, r := range refs {
				fmt.Fprintf(w, "%s\t%s\n", r.Reference(), since(r.LastUsed))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum entries")
	return cmd
}

func imageSetCurrentCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "set-current <tag|image:tag>",
		Short: "Point the CURRENT alias at an image; the old one becomes ROLLBACK",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			image, tag := rt.Config.Image.Name, args[0]
			if strings.ContainsAny(args[0], ":/") {
				image, tag = splitReference(args[0])
			}
			if tag == "" {
				return apperrors.InvalidInput("a tag is required")
			}
			return setCurrentAlias(cmd, env, rt, image, tag)
		},
	}
}

func setCurrentAlias(cmd *cobra.Command, env *Env, rt *Runtime, image, tag string) error {
	previous, err := rt.Aliases.SetCurrent(cmd.Context(), image, tag)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "%s %s:%s\n", green(db.AliasCurrent), image, tag)
	if previous != nil {
		fmt.Fprintf(env.Out, "%s %s\n", yellow(db.AliasRollback), previous.Reference())
	}
	fmt.Fprintln(env.Out, "Run 'hostfleet instance redeploy web' to roll it out")
	return nil
}

func imageRollbackCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Point CURRENT at the previously deployed image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			target, err := rt.Aliases.Rollback(cmd.Context())
			if err != nil {
				return err
			}
			if target == nil {
				return &ExitError{Code: ExitFailure, Err: apperrors.New(apperrors.ErrNotFound, "No previous image to roll back to")}
			}
			fmt.Fprintf(env.Out, "%s %s\n", green(db.AliasCurrent), target.Reference())
			fmt.Fprintln(env.Out, "Run 'hostfleet instance redeploy web' to roll it out")
			return nil
		},
	}
}
