package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/corral/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with the supervisor configuration file",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigAddAppCmd(ctx))
	cmd.AddCommand(newConfigRemoveAppCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lint",
		Aliases: []string{"validate"},
		Short:   "Validate the configuration file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *ctx.configPath
			if _, err := config.Load(path); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	return cmd
}

func newConfigAddAppCmd(ctx *context) *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "add-app PRODUCT APP PATH",
		Short: "Register an application executable under a product",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var persistErr error
			store, err := config.Open(*ctx.configPath, config.WithPersistErrorHandler(func(err error) {
				persistErr = err
			}))
			if err != nil {
				return err
			}
			if err := store.RegisterApp(args[0], args[1], args[2], level); err != nil {
				return err
			}
			if persistErr != nil {
				return fmt.Errorf("write %s: %w", store.Path(), persistErr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s/%s at level %d\n", args[0], args[1], level)
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "Shutdown level; higher levels stop first")
	return cmd
}

func newConfigRemoveAppCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-app PRODUCT APP",
		Short: "Remove an application from the configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var persistErr error
			store, err := config.Open(*ctx.configPath, config.WithPersistErrorHandler(func(err error) {
				persistErr = err
			}))
			if err != nil {
				return err
			}
			if !store.RemoveApp(args[0], args[1]) {
				return fmt.Errorf("%s/%s is not configured", args[0], args[1])
			}
			if persistErr != nil {
				return fmt.Errorf("write %s: %w", store.Path(), persistErr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s\n", args[0], args[1])
			return nil
		},
	}
	return cmd
}
