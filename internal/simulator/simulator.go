// Package simulator drives synthetic road agents against a roadwatch
// server. Each agent drifts along a GPS track, samples an accelerometer
// and posts one record per tick to the records API.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// Gravity is the resting Z reading of an accelerometer on a level road.
const Gravity = 9.81

// Road states derived from the vertical acceleration.
const (
	StateNormal  = "normal"
	StateBump    = "bump"
	StatePothole = "pothole"
)

// ErrRejected is returned when the server refuses the simulator's
// credentials; retrying cannot help.
var ErrRejected = errors.New("simulator: request rejected")

// Config configures a Simulator.
type Config struct {
	BaseURL string
	Agents  []int64

	// Interval between two samples of one agent.
	Interval time.Duration

	// Count is the number of records each agent sends. Zero runs until
	// the context is cancelled.
	Count int

	Token  string
	Origin record.GPS
	Seed   uint64

	Client *http.Client
	Logger *slog.Logger
}

// Stats counts what a run produced.
type Stats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// Simulator posts synthetic telemetry.
type Simulator struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// New checks cfg and fills defaults.
func New(cfg Config) (*Simulator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("simulator: BaseURL is required")
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("simulator: at least one agent is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("simulator: Interval must be positive")
	}
	if cfg.Count < 0 {
		return nil, fmt.Errorf("simulator: Count must be >= 0")
	}

	s := &Simulator{cfg: cfg, client: cfg.Client, logger: cfg.Logger}
	s.cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if s.client == nil {
		s.client = &http.Client{Timeout: 10 * time.Second}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// Run starts one goroutine per agent and waits for all of them. It stops
// early on ctx cancellation, which is not an error, or when the server
// rejects the credentials.
func (s *Simulator) Run(ctx context.Context) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range s.cfg.Agents {
		a := newAgent(id, s.cfg.Origin, s.cfg.Seed+uint64(i))
		g.Go(func() error { return s.drive(ctx, a) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	stats := s.Stats()
	s.logger.Info("simulation finished", "sent", stats.Sent, "failed", stats.Failed)
	return stats, err
}

// Stats returns the counters so far.
func (s *Simulator) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

func (s *Simulator) drive(ctx context.Context, a *agent) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for n := 0; s.cfg.Count == 0 || n < s.cfg.Count; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}

		in := a.step()
		rec, err := s.post(ctx, in)
		switch {
		case err == nil:
			s.sent.Add(1)
			s.logger.Debug("record sent", "agent_id", a.id, "record_id", rec.ID, "road_state", rec.RoadState)
		case errors.Is(err, ErrRejected):
			s.failed.Add(1)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.failed.Add(1)
			s.logger.Warn("record not sent", "agent_id", a.id, "error", err)
		}
	}
	return nil
}

func (s *Simulator) post(ctx context.Context, in record.Input) (record.Record, error) {
	if err := record.Validate(in); err != nil {
		return record.Record{}, err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return record.Record{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/v1/records", bytes.NewReader(body))
	if err != nil {
		return record.Record{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return record.Record{}, err
	}
	defer resp.Body.Close()

	var env struct {
		Data    record.Record `json:"data"`
		Code    string        `json:"code"`
		Message string        `json:"message"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return record.Record{}, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return record.Record{}, fmt.Errorf("status %d: undecodable response: %w", resp.StatusCode, err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		return env.Data, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return record.Record{}, fmt.Errorf("%w: %s %s", ErrRejected, env.Code, env.Message)
	default:
		return record.Record{}, fmt.Errorf("status %d: %s %s", resp.StatusCode, env.Code, env.Message)
	}
}

// agent is the moving state of one simulated vehicle. It is owned by a
// single goroutine.
type agent struct {
	id      int64
	pos     record.GPS
	heading float64
	rng     *rand.Rand
}

func newAgent(id int64, origin record.GPS, seed uint64) *agent {
	rng := rand.New(rand.NewPCG(seed, uint64(id)))
	return &agent{id: id, pos: origin, heading: rng.Float64() * 2 * math.Pi, rng: rng}
}

// step advances the agent by one sample.
func (a *agent) step() record.Input {
	a.heading += (a.rng.Float64() - 0.5) * 0.3
	const stride = 0.0001 // roughly 10 m
	a.pos.Latitude = clamp(a.pos.Latitude+stride*math.Cos(a.heading), -90, 90)
	a.pos.Longitude = wrap(a.pos.Longitude + stride*math.Sin(a.heading))

	accel := record.Accelerometer{
		X: a.rng.NormFloat64() * 0.2,
		Y: a.rng.NormFloat64() * 0.2,
		Z: Gravity + a.rng.NormFloat64()*0.5,
	}
	switch r := a.rng.Float64(); {
	case r < 0.05:
		accel.Z -= 6 + a.rng.Float64()*3
	case r < 0.15:
		accel.Z += 2 + a.rng.Float64()
	}

	id, gps := a.id, a.pos
	return record.Input{
		AgentID:       &id,
		Accelerometer: &accel,
		GPS:           &gps,
		RoadState:     Classify(accel.Z),
	}
}

// Classify maps a vertical acceleration to a road state.
func Classify(z float64) string {
	switch d := math.Abs(z - Gravity); {
	case d >= 4:
		return StatePothole
	case d >= 1.5:
		return StateBump
	default:
		return StateNormal
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrap(lon float64) float64 {
	switch {
	case lon > 180:
		return lon - 360
	case lon < -180:
		return lon + 360
	}
	return lon
}
