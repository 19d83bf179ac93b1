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
	"fmt"
	"net"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const (
	flagUp       = "up"
	flagLoopback = "loopback"
)

// SystemInterfaces lists local addresses through gopsutil.
type SystemInterfaces struct{}

var _ InterfaceLister = SystemInterfaces{}

func (SystemInterfaces) IPv4Addrs(ctx context.Context) ([]net.IP, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	addrs := ipv4FromInterfaces(ifaces)
	if len(addrs) == 0 {
		return nil, errNoInterfaces
	}

	return addrs, nil
}

func ipv4FromInterfaces(ifaces psnet.InterfaceStatList) []net.IP {
	var out []net.IP

	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, flagUp) || hasFlag(iface.Flags, flagLoopback) {
			continue
		}

		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}

			if ip == nil {
				continue
			}

			if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() && !v4.IsLinkLocalUnicast() {
				out = append(out, v4)
			}
		}
	}

	return out
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}

	return false
}
