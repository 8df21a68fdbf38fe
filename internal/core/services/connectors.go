package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/juju/clock"
)

// Connector performs the backup work of one run for a given source type.
type Connector interface {
	Backup(ctx context.Context, job domain.Job, run domain.Run) (domain.RunResult, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, job domain.Job, run domain.Run) (domain.RunResult, error)

func (f ConnectorFunc) Backup(ctx context.Context, job domain.Job, run domain.Run) (domain.RunResult, error) {
	return f(ctx, job, run)
}

// ConnectorRegistry resolves a job's sourceType to its connector.
type ConnectorRegistry struct {
	mu       sync.RWMutex
	bySource map[string]Connector
	fallback Connector
}

// NewConnectorRegistry creates a registry that uses fallback for unregistered source types.
func NewConnectorRegistry(fallback Connector) *ConnectorRegistry {
	return &ConnectorRegistry{bySource: make(map[string]Connector), fallback: fallback}
}

func (r *ConnectorRegistry) Register(sourceType string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySource[sourceType] = c
}

func (r *ConnectorRegistry) For(sourceType string) Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.bySource[sourceType]; ok {
		return c
	}
	return r.fallback
}

// SimulatedConnectorConfig bounds the simulated work.
type SimulatedConnectorConfig struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64 // 0..1
}

// ErrSimulatedFailure is the diagnostic of a simulated failed backup.
var ErrSimulatedFailure = errors.New("simulated backup failure: source returned an error")

// SimulatedConnector stands in for a real connector: it sleeps for a bounded random latency on
// the given clock and then succeeds with positive counters or fails at the configured rate.
type SimulatedConnector struct {
	clock clock.Clock
	cfg   SimulatedConnectorConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedConnector(clk clock.Clock, cfg SimulatedConnectorConfig, seed uint64) *SimulatedConnector {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	if seed == 0 {
		seed = uint64(clk.Now().UnixNano())
	}
	return &SimulatedConnector{
		clock: clk,
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (c *SimulatedConnector) Backup(ctx context.Context, _ domain.Job, _ domain.Run) (domain.RunResult, error) {
	c.mu.Lock()
	latency := c.cfg.MinLatency
	if spread := c.cfg.MaxLatency - c.cfg.MinLatency; spread > 0 {
		latency += time.Duration(c.rng.Int64N(int64(spread)))
	}
	fail := c.rng.Float64() < c.cfg.FailureRate
	records := 100 + c.rng.Int64N(9900)
	files := 1 + records/10
	bytesPerFile := 4096 + c.rng.Int64N(8<<20)
	c.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return domain.RunResult{}, ctx.Err()
		case <-c.clock.After(latency):
		}
	}

	if fail {
		return domain.RunResult{}, ErrSimulatedFailure
	}
	return domain.RunResult{
		RecordsProcessed: records,
		FilesProcessed:   files,
		BytesProcessed:   files * bytesPerFile,
	}, nil
}
