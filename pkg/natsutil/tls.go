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

package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/sensorlink/pkg/models"
)

var (
	// ErrMTLSRequired is returned when TLS files are not configured.
	ErrMTLSRequired = errors.New("mtls files required")
	// ErrCAParsingFailed is returned when the CA bundle holds no certificate.
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
)

// TLSConfig builds a client tls.Config for mutual TLS to NATS.
func TLSConfig(files *models.TLSFiles) (*tls.Config, error) {
	if files == nil || files.CertFile == "" || files.KeyFile == "" || files.CAFile == "" {
		return nil, ErrMTLSRequired
	}

	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(files.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, ErrCAParsingFailed
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   files.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
