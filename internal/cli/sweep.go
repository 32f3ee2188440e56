package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/lazypower/retain/internal/config"
	"github.com/lazypower/retain/internal/engine"
	"github.com/lazypower/retain/internal/retention"
)

func newSweepCmd(load func() (config.Config, error)) *cobra.Command {
	var (
		prune   float64
		archive float64
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Report which memories are due for cleanup",
		Long: "Sweep reads a JSON array of {\"id\",\"created_at\"} records on stdin and reports which " +
			"would be pruned (retention below --threshold) or archived (below --archive-threshold). " +
			"Nothing is deleted and no memory is reinforced.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			th := cfg.SweepThresholds()
			if cmd.Flags().Changed("threshold") {
				th.Prune = prune
			}
			if cmd.Flags().Changed("archive-threshold") {
				th.Archive = archive
			}
			if err := th.Validate(); err != nil {
				return err
			}

			var records []engine.Record
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&records); err != nil {
				return fmt.Errorf("read records: %w", err)
			}

			rc, err := cfg.RetentionConfig()
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg.Tracker)
			if err != nil {
				return err
			}
			defer b.close()

			p, err := engine.New(rc, b.tracker, engine.WithConcurrency(cfg.Ranking.Concurrency))
			if err != nil {
				return err
			}
			rep, err := p.Sweep(cmd.Context(), records, time.Now(), th)
			if err != nil {
				return err
			}
			printSweep(cmd.OutOrStdout(), len(records), th, rep)
			return nil
		},
	}

	cmd.Flags().Float64VarP(&prune, "threshold", "t", 0, "retention below which a memory is pruned (default from config)")
	cmd.Flags().Float64Var(&archive, "archive-threshold", 0, "retention below which a memory is archived (default from config)")
	return cmd
}

func printSweep(out io.Writer, scanned int, th engine.SweepThresholds, rep *engine.SweepReport) {
	fmt.Fprintf(out, "scanned:    %d\n", scanned)
	for _, t := range retention.Tiers() {
		fmt.Fprintf(out, "%-11s %d\n", t.String()+":", rep.Counts[t])
	}
	fmt.Fprintf(out, "prune (< %g): %s\n", th.Prune, joinIDs(rep.Prune))
	fmt.Fprintf(out, "archive (< %g): %s\n", th.Archive, joinIDs(rep.Archive))
	for _, rej := range rep.Rejected {
		fmt.Fprintf(out, "rejected #%d (id %d): %v\n", rej.Index, rej.ID, rej.Err)
	}
	if rep.Degraded > 0 {
		fmt.Fprintf(out, "degraded:   %d\n", rep.Degraded)
	}
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, " ")
}
