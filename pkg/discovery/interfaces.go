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

//go:generate mockgen -destination=mock_discovery.go -package=discovery github.com/carverauto/sensorlink/pkg/discovery Prober,InterfaceLister

package discovery

import (
	"context"
	"net"
)

// Prober decides whether host:port is the controller. It returns nil only
// when the candidate accepted a connection and passed identity verification.
type Prober interface {
	Probe(ctx context.Context, host string, port int) error
}

// InterfaceLister reports the IPv4 addresses of the local, non-loopback,
// up interfaces.
type InterfaceLister interface {
	IPv4Addrs(ctx context.Context) ([]net.IP, error)
}
