package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/retain/internal/config"
	"github.com/lazypower/retain/internal/retention"
)

func newScoreCmd(load func() (config.Config, error)) *cobra.Command {
	var (
		ageDays     float64
		accessCount int64
		similarity  float64
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Evaluate the retention model for a memory of a given age",
		Long: "Score prints the retention, tier and half-life of a memory last reinforced " +
			"(or created) --age-days ago with --access-count prior retrievals, using the configured parameters.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ageDays < 0 {
				return fmt.Errorf("--age-days must be >= 0")
			}
			if accessCount < 0 {
				return fmt.Errorf("--access-count must be >= 0")
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			rc, err := cfg.RetentionConfig()
			if err != nil {
				return err
			}

			now := time.Now()
			ref := now.Add(-time.Duration(ageDays * float64(24*time.Hour)))
			var last time.Time
			if accessCount > 0 {
				last = ref
			}
			ret := rc.Decay(ref, last, accessCount, now)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "retention:  %.4f\n", ret)
			fmt.Fprintf(out, "tier:       %s\n", rc.Classify(ret))
			fmt.Fprintf(out, "decay/day:  %.4f\n", rc.EffectiveRate(accessCount))
			fmt.Fprintf(out, "half-life:  %s\n", formatDays(rc.HalfLife(accessCount)))

			if cmd.Flags().Changed("similarity") {
				final, err := retention.Combine(similarity, ret)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "final:      %.4f\n", final)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&ageDays, "age-days", 0, "days since last reinforcement, or since creation")
	cmd.Flags().Int64Var(&accessCount, "access-count", 0, "number of prior retrievals")
	cmd.Flags().Float64Var(&similarity, "similarity", 0, "semantic similarity in [0,1]; prints the final score")
	return cmd
}

func formatDays(d time.Duration) string {
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
