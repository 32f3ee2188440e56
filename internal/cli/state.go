package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/retain/internal/config"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory id must be a 64-bit integer: %q", s)
	}
	return id, nil
}

func newStateCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "state <id>",
		Short: "Show the reinforcement state of a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			b, err := openDurable(cmd.Context(), cfg.Tracker)
			if err != nil {
				return err
			}
			defer b.close()

			st, err := b.tracker.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get state: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:              %d\n", id)
			fmt.Fprintf(out, "access count:    %d\n", st.AccessCount)
			if st.Reinforced() {
				fmt.Fprintf(out, "last reinforced: %s\n", st.LastReinforcedAt.UTC().Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "last reinforced: never")
			}
			return nil
		},
	}
}

func newForgetCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>",
		Short: "Drop the reinforcement state of a deleted memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			b, err := openDurable(cmd.Context(), cfg.Tracker)
			if err != nil {
				return err
			}
			defer b.close()

			if err := b.tracker.Remove(cmd.Context(), id); err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %d\n", id)
			return nil
		},
	}
}
