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

// Package v4l exposes Video4Linux capture nodes as the on-board camera.
package v4l

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/peripheral"
)

const (
	DefaultGlob     = "/dev/video*"
	defaultSysClass = "/sys/class/video4linux"
)

// Camera treats every /dev/video* node that can capture frames as one
// camera id. Metadata and output-only nodes are skipped.
type Camera struct {
	glob     string
	sysClass string
	capture  func(node string) (bool, error)
	logger   logger.Logger
}

var _ peripheral.Device = (*Camera)(nil)

func NewCamera(glob string, log logger.Logger) *Camera {
	if glob == "" {
		glob = DefaultGlob
	}

	return &Camera{glob: glob, sysClass: defaultSysClass, capture: canCapture, logger: log}
}

func (*Camera) Kind() models.DeviceKind {
	return models.DeviceCamera
}

// IDs returns the matching device nodes in name order.
func (c *Camera) IDs() ([]string, error) {
	matches, err := filepath.Glob(c.glob)
	if err != nil {
		return nil, fmt.Errorf("invalid camera glob %q: %w", c.glob, err)
	}

	out := matches[:0]

	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}

		ok, err := c.capture(m)
		if err != nil {
			c.logger.Debug().Str("node", m).Err(err).Msg("capability query failed")
			continue
		}

		if ok {
			out = append(out, m)
		}
	}

	sort.Strings(out)

	return out, nil
}

func (c *Camera) Initialize(ctx context.Context) (bool, error) {
	ids, err := c.IDs()
	if err != nil {
		return false, err
	}

	if len(ids) == 0 {
		c.logger.Debug().Str("glob", c.glob).Msg("no capture nodes found")
		return false, nil
	}

	c.logger.Info().Strs("nodes", ids).Msg("camera initialized")

	return true, ctx.Err()
}

func (c *Camera) IsAvailable(context.Context) bool {
	ids, err := c.IDs()

	return err == nil && len(ids) > 0
}

func (c *Camera) Scan(context.Context) ([]models.PeripheralDescriptor, error) {
	ids, err := c.IDs()
	if err != nil {
		return nil, err
	}

	out := make([]models.PeripheralDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.PeripheralDescriptor{
			Address:     id,
			DisplayName: c.displayName(id),
		})
	}

	return out, nil
}

func (c *Camera) Connect(_ context.Context, desc models.PeripheralDescriptor) (bool, error) {
	if _, err := os.Stat(desc.Address); err != nil {
		return false, fmt.Errorf("%w: %s", peripheral.ErrUnknownDevice, desc.Address)
	}

	return c.capture(desc.Address)
}

// displayName reads the driver-reported name, falling back to the node name.
func (c *Camera) displayName(node string) string {
	base := filepath.Base(node)

	raw, err := os.ReadFile(filepath.Join(c.sysClass, base, "name"))
	if err != nil {
		return base
	}

	if name := strings.TrimSpace(string(raw)); name != "" {
		return name
	}

	return base
}
