/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package discovery locates the controller on an unknown local network.
package discovery

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/state"
)

// Config tunes the candidate list and the probe pool.
type Config struct {
	// Concurrency bounds in-flight probes. Zero means one at a time.
	Concurrency      int
	HostSuffixes     []string
	FallbackSubnets  []string
	FallbackSuffixes []string
}

// Engine runs discovery against the configuration in a ConfigHolder and
// reports progress through the state store.
type Engine struct {
	cfg    Config
	holder *models.ConfigHolder
	store  *state.Store
	prober Prober
	lister InterfaceLister
	logger logger.Logger
}

func NewEngine(
	cfg Config,
	holder *models.ConfigHolder,
	store *state.Store,
	prober Prober,
	lister InterfaceLister,
	log logger.Logger,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Engine{
		cfg:    cfg,
		holder: holder,
		store:  store,
		prober: prober,
		lister: lister,
		logger: log,
	}
}

// Candidates returns the hosts a run would probe, in order.
func (e *Engine) Candidates(ctx context.Context) []string {
	var local []net.IP

	if e.lister != nil {
		addrs, err := e.lister.IPv4Addrs(ctx)
		if err != nil {
			e.logger.Debug().Err(err).Msg("interface enumeration failed, using configured and default hosts only")
		}

		local = addrs
	}

	return BuildCandidates(CandidateSources{
		Configured:       e.holder.Get().Host,
		LocalAddrs:       local,
		HostSuffixes:     e.cfg.HostSuffixes,
		FallbackSubnets:  e.cfg.FallbackSubnets,
		FallbackSuffixes: e.cfg.FallbackSuffixes,
	})
}

// Discover probes candidates in priority order and adopts the first one that
// verifies. found is false with a nil error when every candidate failed; the
// caller keeps using the configured address in that case.
func (e *Engine) Discover(ctx context.Context) (models.ServerConfiguration, bool, error) {
	current := e.holder.Get()

	if _, ok := e.store.UpdateIf(func(st models.ConnectionState) (models.ConnectionState, bool) {
		if st.IsScanning {
			return st, false
		}

		st.IsScanning = true

		return st, true
	}); !ok {
		return current, false, ErrAlreadyRunning
	}

	defer e.store.Update(func(st models.ConnectionState) models.ConnectionState {
		st.IsScanning = false
		return st
	})

	start := time.Now()
	candidates := e.Candidates(ctx)

	e.logger.Info().
		Int("candidates", len(candidates)).
		Int("port", current.ControlPort).
		Msg("starting controller discovery")

	idx, tried := e.search(ctx, candidates, current.ControlPort)

	log := e.logger.Info().
		Int("tried", tried).
		Dur("elapsed", time.Since(start))

	if idx < 0 {
		if err := ctx.Err(); err != nil {
			log.Err(err).Msg("controller discovery cancelled")

			return current, false, err
		}

		log.Msg("controller not found")

		return current, false, nil
	}

	found := e.holder.Get().WithHost(candidates[idx])
	e.holder.Set(found)

	log.Str("host", found.Host).Msg("controller discovered")

	return found, true, nil
}

// search returns the index of the earliest verified candidate, or -1, and the
// number of probes started. A candidate is never started once an earlier
// one has verified, and in-flight probes behind a winner are cancelled.
func (e *Engine) search(ctx context.Context, candidates []string, port int) (int, int) {
	var (
		mu      sync.Mutex
		best    = len(candidates)
		cancels = make(map[int]context.CancelFunc)
		tried   atomic.Int32
	)

	behindWinner := func(i int) bool {
		mu.Lock()
		defer mu.Unlock()

		return i > best
	}

	var g errgroup.Group

	g.SetLimit(e.cfg.Concurrency)

	for i, host := range candidates {
		if ctx.Err() != nil || behindWinner(i) {
			break
		}

		g.Go(func() error {
			mu.Lock()
			if i > best || ctx.Err() != nil {
				mu.Unlock()
				return nil
			}

			probeCtx, cancel := context.WithCancel(ctx)
			cancels[i] = cancel
			mu.Unlock()

			defer cancel()

			tried.Add(1)

			err := e.prober.Probe(probeCtx, host, port)

			mu.Lock()
			defer mu.Unlock()

			delete(cancels, i)

			if err != nil {
				e.logger.Debug().Str("host", host).Int("port", port).Err(err).Msg("candidate rejected")
				return nil
			}

			if i < best {
				best = i

				for j, c := range cancels {
					if j > i {
						c()
					}
				}
			}

			return nil
		})
	}

	_ = g.Wait()

	if best == len(candidates) {
		return -1, int(tried.Load())
	}

	return best, int(tried.Load())
}
