package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialBridge(t *testing.T, command ...string) *websocket.Conn {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX commands")
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		t.Skipf("%s not available", command[0])
	}

	b := &bridge{command: command, log: zerolog.Nop()}
	srv := httptest.NewServer(http.HandlerFunc(b.handleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestBridgeEchoesLines(t *testing.T) {
	conn := dialBridge(t, "cat")

	msg := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	f := readFrame(t, conn)
	assert.Equal(t, "stdout", f.Type)
	assert.Equal(t, msg, f.Data, "quotes survive the JSON frame")
}

func TestBridgeForwardsStderr(t *testing.T) {
	conn := dialBridge(t, "sh", "-c", "echo oops >&2")

	f := readFrame(t, conn)
	assert.Equal(t, frame{Type: "stderr", Data: "oops"}, f)
}

func TestRootCmdRequiresCommand(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}
