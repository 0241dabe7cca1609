package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is one line of program output.
type frame struct {
	Type string `json:"type"` // stdout or stderr
	Data string `json:"data"`
}

type bridge struct {
	command []string
	log     zerolog.Logger
}

// ListenAndServe serves the bridge until ctx is done.
func (b *bridge) ListenAndServe(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, b.handleWS)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	b.log.Info().Str("addr", addr).Str("path", path).Strs("command", b.command).Msg("WebSocket bridge listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrapf(err, "websocket bridge")
	}
	return nil
}

// handleWS starts one program per connection and pipes it both ways. The
// program is killed when the connection closes.
func (b *bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("Upgrade failed")
		return
	}
	defer conn.Close()
	log := b.log.With().Str("remote", r.RemoteAddr).Logger()

	cmd := exec.Command(b.command[0], b.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Error().Err(err).Msg("Error getting stdin")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error().Err(err).Msg("Error getting stdout")
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Error().Err(err).Msg("Error getting stderr")
		return
	}
	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Msg("Error starting program")
		return
	}
	log.Info().Int("pid", cmd.Process.Pid).Msg("Program started")
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		log.Info().Msg("Program stopped")
	}()

	// gorilla connections allow one concurrent writer
	var writeMu sync.Mutex
	send := func(f frame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go b.pump(&wg, stdout, "stdout", send, log)
	go b.pump(&wg, stderr, "stderr", send, log)

	// websocket messages become program input lines
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("WebSocket closed")
				stdin.Close()
				_ = cmd.Process.Kill()
				return
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				log.Warn().Err(err).Msg("Stdin write error")
				return
			}
		}
	}()

	wg.Wait()
}

func (b *bridge) pump(wg *sync.WaitGroup, r io.Reader, stream string, send func(frame) error, log zerolog.Logger) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := send(frame{Type: stream, Data: scanner.Text()}); err != nil {
			log.Debug().Err(err).Str("stream", stream).Msg("WebSocket write error")
			return
		}
	}
}
