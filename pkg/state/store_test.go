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

package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
)

func TestStore_InitialState(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	assert.Equal(t, models.ConnectionState{}, s.Snapshot())
	assert.Equal(t, uint64(0), s.Version())
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	s.Update(func(st models.ConnectionState) models.ConnectionState {
		st.Inventory.AvailableCameraIDs = []string{"0", "1"}
		st.LastError = models.StringPtr("boom")

		return st
	})

	snap := s.Snapshot()
	snap.Inventory.AvailableCameraIDs[0] = "mutated"
	*snap.LastError = "mutated"

	again := s.Snapshot()
	assert.Equal(t, []string{"0", "1"}, again.Inventory.AvailableCameraIDs)
	assert.Equal(t, "boom", *again.LastError)
}

func TestStore_UpdateIf(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	claim := func(st models.ConnectionState) (models.ConnectionState, bool) {
		if st.IsScanning {
			return st, false
		}

		st.IsScanning = true

		return st, true
	}

	_, ok := s.UpdateIf(claim)
	assert.True(t, ok)

	_, ok = s.UpdateIf(claim)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.Version())
}

func TestStore_SubscribeReplaysCurrent(t *testing.T) {
	s := NewStore(logger.NewTestLogger())
	s.SetConnected(models.DeviceThermal, true)

	ch, cancel := s.Subscribe(context.Background())
	defer cancel()

	select {
	case st := <-ch:
		assert.True(t, st.ThermalConnected)
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive current state")
	}

	s.SetError("thermal unplugged")

	select {
	case st := <-ch:
		require.NotNil(t, st.LastError)
		assert.Equal(t, "thermal unplugged", *st.LastError)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive update")
	}
}

func TestStore_SlowSubscriberGetsLatest(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	ch, cancel := s.Subscribe(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		n := i
		s.Update(func(st models.ConnectionState) models.ConnectionState {
			st.Inventory.AvailableCameraIDs = []string{fmt.Sprint(n)}
			return st
		})
	}

	st := <-ch
	assert.Equal(t, []string{"9"}, st.Inventory.AvailableCameraIDs)
}

func TestStore_UnsubscribeClosesChannel(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	ctx, cancelCtx := context.WithCancel(context.Background())
	ch, _ := s.Subscribe(ctx)

	<-ch
	cancelCtx()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// Updates after unsubscribe must not panic on the closed channel.
	s.SetConnected(models.DeviceCamera, true)
}

func TestStore_ConcurrentTransformsLoseNoUpdate(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	const perWriter = 200

	var wg sync.WaitGroup

	for w := 0; w < 2; w++ {
		wg.Add(1)

		go func(writer int) {
			defer wg.Done()

			for i := 0; i < perWriter; i++ {
				addr := fmt.Sprintf("w%d-%d", writer, i)
				s.Update(func(st models.ConnectionState) models.ConnectionState {
					st.Inventory.PeripheralDevices = append(st.Inventory.PeripheralDevices,
						models.PeripheralDescriptor{Address: addr})

					return st
				})
			}
		}(w)
	}

	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, snap.Inventory.PeripheralDevices, 2*perWriter)
	assert.Equal(t, uint64(2*perWriter), s.Version())

	seen := make(map[string]bool)
	for _, d := range snap.Inventory.PeripheralDevices {
		assert.False(t, seen[d.Address], "duplicate %s", d.Address)
		seen[d.Address] = true
	}
}

func TestStore_ObserversNeverSeePartialState(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := s.Subscribe(ctx)
	defer unsubscribe()

	done := make(chan struct{})

	var torn bool

	go func() {
		defer close(done)

		for st := range ch {
			if st.CameraConnected != st.ThermalConnected {
				torn = true
			}
		}
	}()

	var wg sync.WaitGroup

	for _, v := range []bool{true, false} {
		wg.Add(1)

		go func(v bool) {
			defer wg.Done()

			for i := 0; i < 500; i++ {
				s.Update(func(st models.ConnectionState) models.ConnectionState {
					st.CameraConnected = v
					st.ThermalConnected = v

					return st
				})
			}
		}(v)
	}

	wg.Wait()
	unsubscribe()
	<-done

	assert.False(t, torn)
}

func TestStore_ErrorAndDeviceHelpers(t *testing.T) {
	s := NewStore(logger.NewTestLogger())

	s.SetConnected(models.DeviceController, true)
	assert.False(t, s.IsAnyDeviceConnected())

	s.SetConnected(models.DeviceThermal, true)
	assert.True(t, s.IsAnyDeviceConnected())

	s.SetError("thermal: link lost")
	require.NotNil(t, s.Snapshot().LastError)
	assert.Equal(t, "thermal: link lost", *s.Snapshot().LastError)

	s.ClearError()
	assert.Nil(t, s.Snapshot().LastError)
	assert.Equal(t, uint64(4), s.Version())
}
