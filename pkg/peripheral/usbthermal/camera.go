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

// Package usbthermal finds a supported USB thermal camera through sysfs.
package usbthermal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/peripheral"
)

const (
	DefaultSysfsDir = "/sys/bus/usb/devices"

	vendorRealtek = 0x0bda
	modelTC001    = "Topdon TC001"
)

// supportedProducts are the Realtek bridge PIDs used by TC001 units.
var supportedProducts = map[uint16]struct{}{
	0x3901: {},
	0x5840: {},
	0x5830: {},
	0x5838: {},
}

// Camera reports a thermal camera when a supported VID/PID is enumerated.
type Camera struct {
	root   string
	logger logger.Logger
}

var _ peripheral.Device = (*Camera)(nil)

func NewCamera(sysfsDir string, log logger.Logger) *Camera {
	if sysfsDir == "" {
		sysfsDir = DefaultSysfsDir
	}

	return &Camera{root: sysfsDir, logger: log}
}

func (*Camera) Kind() models.DeviceKind {
	return models.DeviceThermal
}

// Supported reports whether vid:pid is a recognised thermal camera.
func Supported(vid, pid uint16) bool {
	if vid != vendorRealtek {
		return false
	}

	_, ok := supportedProducts[pid]

	return ok
}

func (c *Camera) Initialize(ctx context.Context) (bool, error) {
	found, err := c.Scan(ctx)
	if err != nil {
		return false, err
	}

	if len(found) == 0 {
		return false, nil
	}

	c.logger.Info().Str("bus_id", found[0].Address).Str("model", found[0].DisplayName).Msg("thermal camera initialized")

	return true, nil
}

func (c *Camera) IsAvailable(ctx context.Context) bool {
	found, err := c.Scan(ctx)

	return err == nil && len(found) > 0
}

func (c *Camera) Scan(context.Context) ([]models.PeripheralDescriptor, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", c.root, err)
	}

	var out []models.PeripheralDescriptor

	for _, e := range entries {
		dir := filepath.Join(c.root, e.Name())

		vid, err := readHexID(filepath.Join(dir, "idVendor"))
		if err != nil {
			continue
		}

		pid, err := readHexID(filepath.Join(dir, "idProduct"))
		if err != nil {
			continue
		}

		if !Supported(vid, pid) {
			continue
		}

		out = append(out, models.PeripheralDescriptor{
			Address:     e.Name(),
			DisplayName: modelTC001,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	return out, nil
}

func (c *Camera) Connect(_ context.Context, desc models.PeripheralDescriptor) (bool, error) {
	dir := filepath.Join(c.root, filepath.Base(desc.Address))

	vid, err := readHexID(filepath.Join(dir, "idVendor"))
	if err != nil {
		return false, fmt.Errorf("%w: %s", peripheral.ErrUnknownDevice, desc.Address)
	}

	pid, err := readHexID(filepath.Join(dir, "idProduct"))
	if err != nil || !Supported(vid, pid) {
		return false, fmt.Errorf("%w: %s", peripheral.ErrUnknownDevice, desc.Address)
	}

	return true, nil
}

func readHexID(path string) (uint16, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 16, 16)
	if err != nil {
		return 0, err
	}

	return uint16(v), nil
}
