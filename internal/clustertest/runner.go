// Package clustertest discovers a locally-running multi-peer overlay
// cluster (started via docker-compose or similar) and drives it for manual
// or scripted exercising, the role the teacher's internal/client/tester
// package plays for its own DHT.
package clustertest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"overlay/internal/bootstrap"
	"overlay/internal/client"
	"overlay/internal/esearch"
	"overlay/internal/logger"
	"overlay/internal/wire"
)

// Runner repeatedly discovers peers and fires presence-query waves at them,
// logging every outcome through a ResultWriter.
type Runner struct {
	cfg    *Config
	logger logger.Logger
	writer ResultWriter
	disc   bootstrap.Discoverer
}

// NewRunner builds a Runner over an already-initialized discoverer.
func NewRunner(cfg *Config, lgr logger.Logger, writer ResultWriter, disc bootstrap.Discoverer) *Runner {
	return &Runner{cfg: cfg, logger: lgr, writer: writer, disc: disc}
}

// Run drives exercise waves until the configured duration elapses or ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("cluster exerciser started", logger.F("duration", r.cfg.Run.Duration))
	started := time.Now()
	endTime := started.Add(r.cfg.Run.Duration)

	interval := time.Duration(float64(time.Second) / r.cfg.Operations.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if time.Now().After(endTime) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.runWave(ctx); err != nil {
				r.logger.Error("exercise wave failed", logger.F("err", err))
			}
		}
	}

	r.logger.Info("cluster exerciser finished", logger.F("elapsed", time.Since(started)))
	return nil
}

func (r *Runner) runWave(ctx context.Context) error {
	peers, err := r.disc.Discover(ctx)
	if err != nil {
		return fmt.Errorf("clustertest: discovery failed: %w", err)
	}
	if len(peers) == 0 {
		r.logger.Warn("no peers discovered")
		return nil
	}

	workers := randomInt(r.cfg.Operations.Parallelism.MinWorkers, r.cfg.Operations.Parallelism.MaxWorkers)
	r.logger.Info("starting exercise wave", logger.F("workers", workers), logger.F("peers", len(peers)))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			default:
				r.probeOne(peers[idx%len(peers)])
			}
		}()
	}
	wg.Wait()
	return nil
}

func (r *Runner) probeOne(addr string) {
	key, err := randomKey()
	if err != nil {
		r.logger.Warn("failed to generate probe key", logger.F("err", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Operations.Timeout)
	defer cancel()

	start := time.Now()
	api, conn, err := client.Connect(addr)
	if err != nil {
		r.logger.Debug("peer unreachable", logger.F("addr", addr), logger.F("err", err))
		return
	}
	defer conn.Close()

	query := esearch.NewFindQuery(esearch.Presence{Key: key}, esearch.EvaluationInfo{AllInformationPresent: true})
	env, err := api.Dispatch(ctx, &wire.Envelope{Kind: wire.KindClientFind, Payload: wire.ClientFindPayload{Query: query}})
	delay := time.Since(start)

	var result string
	switch {
	case err != nil:
		result = fmt.Sprintf("ERROR_%v", err)
	default:
		resp, ok := env.Payload.(wire.ClientFindResponsePayload)
		if !ok {
			result = "ERROR_unexpected_payload"
		} else if resp.Err != "" {
			result = fmt.Sprintf("REJECTED_%s", resp.Err)
		} else if len(resp.Results) == 0 {
			result = "NOT_FOUND"
		} else {
			result = "FOUND"
		}
	}

	r.logger.Info("probe result",
		logger.F("addr", addr),
		logger.F("key", key),
		logger.F("result", result),
		logger.F("delay_ms", delay.Milliseconds()),
	)

	if err := r.writer.WriteRow(addr, "presence", result, delay); err != nil {
		r.logger.Warn("failed to write result row", logger.F("err", err))
	}
}

func randomInt(min, max int) int {
	if min >= max {
		return min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return min
	}
	return min + int(n.Int64())
}

func randomKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
