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

package v4l

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/peripheral"
)

var errPermission = errors.New("permission denied")

func fakeNodes(t *testing.T, names ...string) (string, string) {
	t.Helper()

	dev := t.TempDir()
	sys := t.TempDir()

	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dev, n), nil, 0o600))
	}

	return dev, sys
}

func TestCamera_ScanAndInitialize(t *testing.T) {
	dev, sys := fakeNodes(t, "video2", "video0")

	require.NoError(t, os.MkdirAll(filepath.Join(sys, "video0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sys, "video0", "name"), []byte("Integrated Camera\n"), 0o600))

	cam := NewCamera(filepath.Join(dev, "video*"), logger.NewTestLogger())
	cam.sysClass = sys
	cam.capture = func(string) (bool, error) { return true, nil }

	ok, err := cam.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, cam.IsAvailable(context.Background()))
	assert.Equal(t, models.DeviceCamera, cam.Kind())

	descs, err := cam.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, filepath.Join(dev, "video0"), descs[0].Address)
	assert.Equal(t, "Integrated Camera", descs[0].DisplayName)
	assert.Equal(t, "video2", descs[1].DisplayName)

	connected, err := cam.Connect(context.Background(), descs[1])
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestCamera_SkipsNodesWithoutCapture(t *testing.T) {
	dev, _ := fakeNodes(t, "video0", "video1", "video2")

	cam := NewCamera(filepath.Join(dev, "video*"), logger.NewTestLogger())
	cam.capture = func(node string) (bool, error) {
		switch filepath.Base(node) {
		case "video1":
			return false, nil
		case "video2":
			return false, errPermission
		default:
			return true, nil
		}
	}

	ids, err := cam.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dev, "video0")}, ids)

	ok, err := cam.Connect(context.Background(), models.PeripheralDescriptor{Address: filepath.Join(dev, "video1")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCamera_NoNodes(t *testing.T) {
	dev, _ := fakeNodes(t)

	cam := NewCamera(filepath.Join(dev, "video*"), logger.NewTestLogger())

	ok, err := cam.Initialize(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, cam.IsAvailable(context.Background()))

	_, err = cam.Connect(context.Background(), models.PeripheralDescriptor{Address: filepath.Join(dev, "video9")})
	require.ErrorIs(t, err, peripheral.ErrUnknownDevice)
}
