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

// Package version reports the sensorlinkd build. Values are injected with
// -ldflags "-X github.com/carverauto/sensorlink/pkg/version.version=...".
package version

//nolint:gochecknoglobals // set via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// Version returns the release version, "dev" for local builds.
func Version() string {
	return version
}

// Commit returns the source revision the binary was built from.
func Commit() string {
	return commit
}

// String formats the version for -version output and logs.
func String() string {
	return "sensorlinkd " + version + " (" + commit + ")"
}
