package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tasksync/domain"
	"tasksync/labeler"
)

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the task list, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return printTasks(cmd.OutOrStdout(), opts.Format, s.rec.Snapshot())
		},
	}
}

func newAddCommand(opts *RootOptions) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "add TITLE...",
		Short: "Add a task; a label is generated unless --label is given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			if err := domain.ValidateTitle(title); err != nil {
				return err
			}
			s, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if label != "" {
				if label, err = labeler.Sanitize(label); err != nil {
					return fmt.Errorf("%w: invalid label", domain.ErrValidationFailed)
				}
			} else {
				ctx, cancel := opts.callContext(cmd.Context())
				label, err = labeler.Resolve(ctx, s.backend.Labels, title, opts.policy)
				cancel()
				if err != nil {
					return err
				}
			}

			id, err := s.rec.ApplyLocalInsertLabeled(title, label)
			if err != nil {
				return err
			}
			if err := s.settle(); err != nil {
				return err
			}
			t, ok := s.confirmed(id)
			if !ok {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", id)
				return err
			}
			return printTask(cmd.OutOrStdout(), opts.Format, t)
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "label to use instead of a generated one")
	return cmd
}

func newToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle ID",
		Short: "Flip the completion state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.rec.ApplyLocalToggle(args[0]); err != nil {
				return err
			}
			if err := s.settle(); err != nil {
				return err
			}
			t, ok := s.rec.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrNotFound, args[0])
			}
			return printTask(cmd.OutOrStdout(), opts.Format, t)
		},
	}
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.rec.ApplyLocalDelete(args[0]); err != nil {
				return err
			}
			if err := s.settle(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the task list every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			select {
			case <-s.changed:
			default:
			}
			out := cmd.OutOrStdout()
			if err := printTasks(out, opts.Format, s.rec.Snapshot()); err != nil {
				return err
			}
			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-s.changed:
				}
				for _, f := range s.takeFailures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", f)
				}
				if opts.Format == "text" {
					fmt.Fprintln(out, "--")
				}
				if err := printTasks(out, opts.Format, s.rec.Snapshot()); err != nil {
					return err
				}
			}
		},
	}
}
