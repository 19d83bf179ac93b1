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

package controlclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sensorlink/pkg/controlclient/controltest"
	"github.com/carverauto/sensorlink/pkg/handshake"
	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
)

func serverConfig(srv *controltest.Server) models.ServerConfiguration {
	return models.ServerConfiguration{Host: srv.Host(), ControlPort: srv.Port(), DataPort: srv.Port() + 1}
}

func TestDial_CompatibleController(t *testing.T) {
	srv := controltest.Start(t, controltest.Echo)
	d := &Dialer{Logger: logger.NewTestLogger()}

	id := Identity{DeviceName: "Pixel 7", AppVersion: "2.3.0", DeviceType: "android", ProtocolVersion: 1}

	session, err := d.Dial(context.Background(), serverConfig(srv), id)
	require.NoError(t, err)

	defer func() { _ = session.Close() }()

	assert.True(t, session.Alive())
	assert.Equal(t, srv.Addr(), session.RemoteAddr())
	assert.Equal(t, "controltest", session.Ack().ServerName)

	got := srv.Handshakes()
	require.Len(t, got, 1)
	assert.Equal(t, handshake.BuildHandshake(1, "Pixel 7", "2.3.0", "android"), got[0])
}

func TestDial_IncompatibleControllerIsRefused(t *testing.T) {
	srv := controltest.Start(t, controltest.Version(4))
	d := &Dialer{Logger: logger.NewTestLogger()}

	session, err := d.Dial(context.Background(), serverConfig(srv), Identity{
		DeviceName:      "Pixel 7",
		AppVersion:      "2.3.0",
		DeviceType:      "android",
		ProtocolVersion: 3,
	})
	require.Error(t, err)
	assert.Nil(t, session)

	var compat *handshake.CompatibilityError
	require.ErrorAs(t, err, &compat)
	assert.Equal(t, 3, compat.Local)
	assert.Equal(t, 4, compat.Remote)
	require.ErrorIs(t, err, handshake.ErrIncompatible)
}

func TestDial_MalformedAck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		defer func() { _ = conn.Close() }()

		buf := make([]byte, 512)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("{\"type\":\"handshake_ack\",\"protocol_version\":1}\n"))
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	d := &Dialer{}

	_, err = d.Dial(context.Background(), models.ServerConfiguration{Host: "127.0.0.1", ControlPort: port}, Identity{ProtocolVersion: 1})
	require.ErrorIs(t, err, handshake.ErrMissingField)
}

func TestDial_SilentControllerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		time.Sleep(2 * time.Second)
		_ = conn.Close()
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	d := &Dialer{HandshakeTimeout: 100 * time.Millisecond}

	start := time.Now()
	_, err = d.Dial(context.Background(), models.ServerConfiguration{Host: "127.0.0.1", ControlPort: port}, Identity{ProtocolVersion: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d := &Dialer{Timeout: 500 * time.Millisecond}

	_, err = d.Dial(context.Background(), models.ServerConfiguration{Host: "127.0.0.1", ControlPort: port}, Identity{ProtocolVersion: 1})
	require.Error(t, err)
}

func TestSession_DetachTransfersOwnership(t *testing.T) {
	srv := controltest.Start(t, nil)
	d := &Dialer{}

	session, err := d.Dial(context.Background(), serverConfig(srv), Identity{ProtocolVersion: 1})
	require.NoError(t, err)

	conn, reader, err := session.Detach()
	require.NoError(t, err)
	require.NotNil(t, reader)

	defer func() { _ = conn.Close() }()

	assert.False(t, session.Alive())
	require.NoError(t, session.Err())
	require.NoError(t, session.Close())

	// the watcher is gone, so the new owner reads the socket alone
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = reader.ReadByte()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	_, _, err = session.Detach()
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_NoticesControllerHangUp(t *testing.T) {
	srv := controltest.Start(t, nil)
	d := &Dialer{Logger: logger.NewTestLogger()}

	session, err := d.Dial(context.Background(), serverConfig(srv), Identity{ProtocolVersion: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.OpenSessions() == 1 }, time.Second, 10*time.Millisecond)

	srv.DropSessions()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the controller hanging up")
	}

	assert.False(t, session.Alive())
	require.ErrorIs(t, session.Err(), ErrConnectionLost)

	_, _, err = session.Detach()
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_CloseIsNotALoss(t *testing.T) {
	srv := controltest.Start(t, nil)
	d := &Dialer{}

	session, err := d.Dial(context.Background(), serverConfig(srv), Identity{ProtocolVersion: 1})
	require.NoError(t, err)

	require.NoError(t, session.Close())

	select {
	case <-session.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}

	require.NoError(t, session.Err())
	assert.Eventually(t, func() bool { return srv.OpenSessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestIdentityFromConfig_DefaultsProtocolVersion(t *testing.T) {
	id := IdentityFromConfig(models.IdentityConfig{DeviceName: "tab"})

	assert.Equal(t, handshake.ProtocolVersion, id.ProtocolVersion)
	assert.Equal(t, "tab", id.DeviceName)
	assert.Equal(t, "dev", id.AppVersion)
}
