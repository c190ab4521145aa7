package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/simulator"
)

var simulateOpts struct {
	url       string
	agents    []int64
	interval  time.Duration
	count     int
	token     string
	latitude  float64
	longitude float64
	seed      uint64
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Post synthetic telemetry from simulated road agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log, os.Stderr)

		token := simulateOpts.token
		if token == "" {
			token = os.Getenv("ROADWATCH_TOKEN")
		}

		sim, err := simulator.New(simulator.Config{
			BaseURL:  simulateOpts.url,
			Agents:   simulateOpts.agents,
			Interval: simulateOpts.interval,
			Count:    simulateOpts.count,
			Token:    token,
			Origin:   record.GPS{Latitude: simulateOpts.latitude, Longitude: simulateOpts.longitude},
			Seed:     simulateOpts.seed,
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		stats, err := sim.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("simulate: %w", err)
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simulateOpts.url, "url", "http://localhost:8000", "roadwatch base URL")
	f.Int64SliceVar(&simulateOpts.agents, "agents", []int64{1}, "agent ids to simulate")
	f.DurationVar(&simulateOpts.interval, "interval", time.Second, "time between samples of one agent")
	f.IntVar(&simulateOpts.count, "count", 0, "records per agent (0 = until interrupted)")
	f.StringVar(&simulateOpts.token, "token", "", "bearer token (default: $ROADWATCH_TOKEN)")
	f.Float64Var(&simulateOpts.latitude, "lat", 50.4501, "starting latitude")
	f.Float64Var(&simulateOpts.longitude, "lon", 30.5234, "starting longitude")
	f.Uint64Var(&simulateOpts.seed, "seed", 1, "random seed")
}
