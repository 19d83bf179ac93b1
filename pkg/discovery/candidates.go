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
	"net"
	"strings"
)

// DefaultHostSuffixes are the host parts most often handed to a PC on a home
// or lab network, in probe order.
var DefaultHostSuffixes = []string{"1", "10", "50", "100", "101", "102", "254"}

// DefaultFallbackSubnets are /24 prefixes tried when nothing local matches.
var DefaultFallbackSubnets = []string{"192.168.0", "192.168.1", "10.0.0", "172.16.0"}

// defaultFallbackSuffixes keeps the blind guesses on networks we are not
// attached to short.
var defaultFallbackSuffixes = []string{"100", "101", "10"}

// CandidateSources are the inputs to BuildCandidates.
type CandidateSources struct {
	// Configured is the currently configured controller host.
	Configured string
	// LocalAddrs are the device's own IPv4 addresses.
	LocalAddrs []net.IP
	// HostSuffixes override DefaultHostSuffixes.
	HostSuffixes []string
	// FallbackSubnets override DefaultFallbackSubnets.
	FallbackSubnets []string
	// FallbackSuffixes override the suffixes used with FallbackSubnets.
	FallbackSuffixes []string
}

// BuildCandidates returns the candidate hosts in priority order: the
// configured host, hosts on every local /24, hosts on the configured host's
// /24, then the fallback subnets. Duplicates keep their first position.
func BuildCandidates(src CandidateSources) []string {
	suffixes := src.HostSuffixes
	if len(suffixes) == 0 {
		suffixes = DefaultHostSuffixes
	}

	fallbackSubnets := src.FallbackSubnets
	if fallbackSubnets == nil {
		fallbackSubnets = DefaultFallbackSubnets
	}

	fallbackSuffixes := src.FallbackSuffixes
	if len(fallbackSuffixes) == 0 {
		fallbackSuffixes = defaultFallbackSuffixes
	}

	var all []string

	all = append(all, strings.TrimSpace(src.Configured))

	for _, ip := range src.LocalAddrs {
		v4 := ip.To4()
		if v4 == nil || v4.IsLoopback() {
			continue
		}

		all = append(all, expand(subnetPrefix(v4), suffixes)...)
	}

	if ip := net.ParseIP(strings.TrimSpace(src.Configured)); ip != nil && ip.To4() != nil {
		all = append(all, expand(subnetPrefix(ip.To4()), suffixes)...)
	}

	for _, subnet := range fallbackSubnets {
		all = append(all, expand(subnet, fallbackSuffixes)...)
	}

	return dedupe(all)
}

// subnetPrefix returns the first three octets of a /24.
func subnetPrefix(ip net.IP) string {
	s := ip.String()

	return s[:strings.LastIndexByte(s, '.')]
}

func expand(prefix string, suffixes []string) []string {
	out := make([]string, 0, len(suffixes))

	for _, suffix := range suffixes {
		out = append(out, prefix+"."+suffix)
	}

	return out
}

// dedupe drops empty entries and repeats, preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))

	for _, host := range in {
		if host == "" {
			continue
		}

		if _, ok := seen[host]; ok {
			continue
		}

		seen[host] = struct{}{}
		out = append(out, host)
	}

	return out
}
