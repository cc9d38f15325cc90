// Package cli implements taskctl, a terminal client that keeps a local copy
// of an owner's task list in sync with the task store.
package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasksync/labeler"
	"tasksync/reconciler"
)

// Backend is what a command session talks to.
type Backend struct {
	Store  reconciler.Store
	Labels labeler.Generator
	// Close releases the backend. May be nil.
	Close func() error
}

// Opener connects to a backend. It is called once per command.
type Opener func(ctx context.Context) (*Backend, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Owner   string
	Format  string
	Policy  string
	Timeout time.Duration
	Verbose bool

	open   Opener
	policy labeler.Policy
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the taskctl command tree. defaultOwner seeds the
// --owner flag.
func NewRootCommand(open Opener, defaultOwner string) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "taskctl - manage your task list from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Owner == "" {
				return fmt.Errorf("--owner is required")
			}
			p, err := labeler.ParsePolicy(opts.Policy)
			if err != nil {
				return err
			}
			opts.policy = p
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Owner, "owner", defaultOwner, "owner whose tasks are managed")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Policy, "label-policy", "fallback", "what to do when labeling fails (fallback|require)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "bound for each store call, 0 disables it")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newToggleCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

// callContext bounds a single call by --timeout. Zero or less means no bound,
// as for store calls.
func (o *RootOptions) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

func (o *RootOptions) logger(cmd *cobra.Command) *log.Logger {
	l := log.New()
	l.SetOutput(cmd.ErrOrStderr())
	l.SetLevel(log.WarnLevel)
	if o.Verbose {
		l.SetLevel(log.DebugLevel)
	}
	return l
}
