package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fllarpy/callprobe/internal/logutil"
	"github.com/fllarpy/callprobe/profiling"
)

var plain bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Print the call tree of a simulated request",
	Long: `Runs a simulated order request against a manual clock and prints the
recorded call tree. Timings are fixed, so the output is stable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.Context(), cmd.OutOrStdout(), profiling.Config{
			Enabled:          true,
			MinExecutionTime: cfg.Profiling.MinExecutionTime,
			ShortSignatures:  cfg.Profiling.ShortSignatures,
			PoolCapacity:     cfg.Profiling.PoolCapacity,
		}, !plain)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().BoolVar(&plain, "plain", false, "Indent with spaces instead of box-drawing glyphs")
}

func runDemo(ctx context.Context, w io.Writer, pc profiling.Config, asciiArt bool) error {
	clock := profiling.NewManualClock(0)
	profiler, err := profiling.NewProfiler(pc,
		profiling.WithClock(clock),
		profiling.WithLogger(logutil.Component("profiler")),
	)
	if err != nil {
		return err
	}
	if profiler == nil {
		return errors.New("profiling is disabled")
	}

	ctx, session := profiler.Activate(ctx, "POST /orders")
	defer session.Close()
	placeOrder(ctx, clock)
	session.Deactivate()

	_, err = fmt.Fprint(w, session.Export().Format(asciiArt))
	return err
}

// step runs fn as a monitored call after spending self on its own.
func step(ctx context.Context, clock *profiling.ManualClock, signature string, self time.Duration, fn func()) {
	defer profiling.Enter(ctx, signature).Exit("")
	clock.Advance(self)
	if fn != nil {
		fn()
	}
}

func query(ctx context.Context, clock *profiling.ManualClock, statement string, d time.Duration) {
	clock.Advance(d)
	profiling.AddIOCall(ctx, statement, d)
}

func placeOrder(ctx context.Context, clock *profiling.ManualClock) {
	clock.Advance(time.Millisecond)
	step(ctx, clock, "public void com.shop.OrderController.placeOrder(long)", 2*time.Millisecond, func() {
		step(ctx, clock, "public boolean com.shop.Validator.validate(com.shop.Order)", 3*time.Millisecond, nil)
		step(ctx, clock, "public java.util.List com.shop.ItemRepository.loadItems(long)", time.Millisecond, func() {
			for id := 1; id <= 3; id++ {
				query(ctx, clock, fmt.Sprintf("SELECT * FROM items WHERE id = %d", id), 4*time.Millisecond)
			}
		})
		step(ctx, clock, "github.com/shop/pricing.(*Engine).Quote", 10*time.Millisecond, func() {
			step(ctx, clock, "github.com/shop/pricing.applyDiscounts", 5*time.Millisecond, nil)
		})
		step(ctx, clock, "github.com/shop/store.(*DB).Save", time.Millisecond, func() {
			query(ctx, clock, "INSERT INTO orders (id, total) VALUES (42, 1999)", 8*time.Millisecond)
		})
	})
	clock.Advance(time.Millisecond)
}
