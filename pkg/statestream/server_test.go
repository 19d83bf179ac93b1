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

package statestream

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/state"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readState(t *testing.T, conn *websocket.Conn) models.ConnectionState {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeState, msg.Type)

	return msg.State
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestServerStreamsCurrentAndLaterStates(t *testing.T) {
	store := state.NewStore(nil)
	store.SetConnected(models.DeviceCamera, true)

	srv := NewServer(store, "", logger.NewTestLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn := dial(t, wsURL(ts.URL, DefaultPath))

	first := readState(t, conn)
	assert.True(t, first.CameraConnected)
	assert.False(t, first.ControllerConnected)

	store.SetConnected(models.DeviceController, true)

	next := readState(t, conn)
	assert.True(t, next.ControllerConnected)
	assert.Equal(t, 1, srv.ClientCount())
}

func TestServerFansOutToEveryClient(t *testing.T) {
	store := state.NewStore(nil)

	srv := NewServer(store, "/v1/state", nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	a := dial(t, wsURL(ts.URL, "/v1/state"))
	b := dial(t, wsURL(ts.URL, "/v1/state"))

	readState(t, a)
	readState(t, b)

	store.SetError("peripheral: link lost")

	for _, conn := range []*websocket.Conn{a, b} {
		st := readState(t, conn)
		require.NotNil(t, st.LastError)
		assert.Equal(t, "peripheral: link lost", *st.LastError)
	}
}

func TestServerForgetsClosedClients(t *testing.T) {
	store := state.NewStore(nil)

	srv := NewServer(store, "", nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn := dial(t, wsURL(ts.URL, DefaultPath))
	readState(t, conn)

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeShutsDownWithContext(t *testing.T) {
	store := state.NewStore(nil)
	srv := NewServer(store, "", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx, ln) }()

	conn := dial(t, "ws://"+ln.Addr().String()+DefaultPath)
	readState(t, conn)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}
