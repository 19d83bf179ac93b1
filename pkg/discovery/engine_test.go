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

package discovery

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/state"
)

var errNoInterfacesForTest = errors.New("no interfaces")

func newTestEngine(t *testing.T, cfg Config, host string, prober Prober, lister InterfaceLister) (*Engine, *models.ConfigHolder, *state.Store) {
	t.Helper()

	log := logger.NewTestLogger()
	holder := models.NewConfigHolder(models.ServerConfiguration{Host: host, ControlPort: 9000, DataPort: 9001})
	store := state.NewStore(log)

	return NewEngine(cfg, holder, store, prober, lister, log), holder, store
}

func TestDiscover_StopsAtFirstVerifiedCandidate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	prober := NewMockProber(ctrl)
	lister := NewMockInterfaceLister(ctrl)

	lister.EXPECT().IPv4Addrs(gomock.Any()).Return(nil, errNoInterfacesForTest)

	// candidates: 192.168.5.7, 192.168.5.1, 192.168.5.10, 192.168.5.50, ...
	gomock.InOrder(
		prober.EXPECT().Probe(gomock.Any(), "192.168.5.7", 9000).Return(ErrUnreachable),
		prober.EXPECT().Probe(gomock.Any(), "192.168.5.1", 9000).Return(ErrNotController),
		prober.EXPECT().Probe(gomock.Any(), "192.168.5.10", 9000).Return(nil),
	)

	engine, holder, store := newTestEngine(t, Config{FallbackSubnets: []string{}}, "192.168.5.7", prober, lister)

	found, ok, err := engine.Discover(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "192.168.5.10", found.Host)
	assert.Equal(t, "192.168.5.10", holder.Get().Host)

	st := store.Snapshot()
	assert.False(t, st.IsScanning)
	assert.Nil(t, st.Inventory.ControllerAddress, "address is recorded only after a successful handshake")
}

func TestDiscover_ConfiguredHostUnreachableFindsSubnetPeer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	prober := NewMockProber(ctrl)
	lister := NewMockInterfaceLister(ctrl)

	lister.EXPECT().IPv4Addrs(gomock.Any()).Return([]net.IP{net.ParseIP("10.0.0.42")}, nil)

	gomock.InOrder(
		prober.EXPECT().Probe(gomock.Any(), "10.0.0.5", 9000).Return(ErrUnreachable),
		prober.EXPECT().Probe(gomock.Any(), "10.0.0.1", 9000).Return(ErrUnreachable),
		prober.EXPECT().Probe(gomock.Any(), "10.0.0.10", 9000).Return(ErrUnreachable),
		prober.EXPECT().Probe(gomock.Any(), "10.0.0.50", 9000).Return(ErrUnreachable),
		prober.EXPECT().Probe(gomock.Any(), "10.0.0.100", 9000).Return(nil),
	)

	engine, _, _ := newTestEngine(t, Config{}, "10.0.0.5", prober, lister)

	found, ok, err := engine.Discover(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, models.ServerConfiguration{Host: "10.0.0.100", ControlPort: 9000, DataPort: 9001}, found)
}

func TestDiscover_NotFoundKeepsConfiguration(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	prober := NewMockProber(ctrl)
	lister := NewMockInterfaceLister(ctrl)

	lister.EXPECT().IPv4Addrs(gomock.Any()).Return(nil, errNoInterfacesForTest)
	prober.EXPECT().Probe(gomock.Any(), gomock.Any(), 9000).Return(ErrUnreachable).Times(4)

	engine, holder, store := newTestEngine(t, Config{
		FallbackSubnets:  []string{"10.0.0"},
		FallbackSuffixes: []string{"100", "101", "10"},
	}, "controller.lan", prober, lister)

	found, ok, err := engine.Discover(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "controller.lan", found.Host)
	assert.Equal(t, "controller.lan", holder.Get().Host)
	assert.False(t, store.Snapshot().IsScanning)
	assert.Nil(t, store.Snapshot().Inventory.ControllerAddress)
}

func TestDiscover_RejectsConcurrentRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	engine, _, store := newTestEngine(t, Config{}, "10.0.0.5", NewMockProber(ctrl), NewMockInterfaceLister(ctrl))

	store.Update(func(st models.ConnectionState) models.ConnectionState {
		st.IsScanning = true
		return st
	})

	_, ok, err := engine.Discover(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.False(t, ok)
	assert.True(t, store.Snapshot().IsScanning)
}

func TestDiscover_CancelledResetsScanningFlag(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	prober := NewMockProber(ctrl)
	lister := NewMockInterfaceLister(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lister.EXPECT().IPv4Addrs(gomock.Any()).Return(nil, errNoInterfacesForTest)
	prober.EXPECT().Probe(gomock.Any(), "10.9.9.9", 9000).DoAndReturn(
		func(ctx context.Context, _ string, _ int) error {
			cancel()
			<-ctx.Done()

			return ctx.Err()
		})

	engine, _, store := newTestEngine(t, Config{}, "10.9.9.9", prober, lister)

	_, ok, err := engine.Discover(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
	assert.False(t, store.Snapshot().IsScanning)
}

// concurrentProber lets later candidates finish first to exercise ordering.
type concurrentProber struct {
	winners map[string]time.Duration
	probed  atomic.Int32
}

func (p *concurrentProber) Probe(ctx context.Context, host string, _ int) error {
	p.probed.Add(1)

	delay, ok := p.winners[host]
	if !ok {
		return ErrUnreachable
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDiscover_ConcurrentProbesKeepPriorityOrder(t *testing.T) {
	prober := &concurrentProber{winners: map[string]time.Duration{
		"192.168.5.10":  50 * time.Millisecond,
		"192.168.5.100": time.Millisecond,
	}}

	engine, _, _ := newTestEngine(t, Config{Concurrency: 8, FallbackSubnets: []string{}}, "192.168.5.7", prober, nil)

	found, ok, err := engine.Discover(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "192.168.5.10", found.Host)
}

func TestEngine_Candidates(t *testing.T) {
	engine, _, _ := newTestEngine(t, Config{FallbackSubnets: []string{}}, "10.0.0.5", nil, nil)

	got := engine.Candidates(context.Background())
	require.NotEmpty(t, got)
	assert.Equal(t, "10.0.0.5", got[0])
	assert.Contains(t, got, "10.0.0.254")
}
