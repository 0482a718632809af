// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package present

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/changedetection/internal/logger"
)

//go:embed web/display.html
var displayPage []byte

// onsetTimeout bounds the wait for the browser to confirm a frame was painted.
const onsetTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // display runs on the lab network
	},
}

// serverMessage is sent to the display page.
type serverMessage struct {
	Type       string `json:"type"` // text, frame, close
	Seq        int64  `json:"seq,omitempty"`
	Text       string `json:"text,omitempty"`
	Color      string `json:"color,omitempty"`
	Background string `json:"background,omitempty"`
	Frame      *Frame `json:"frame,omitempty"`
}

// clientMessage is sent by the display page.
type clientMessage struct {
	Type     string  `json:"type"` // key, onset
	Key      string  `json:"key,omitempty"`
	Seq      int64   `json:"seq,omitempty"`
	RTMillis float64 `json:"rt_ms,omitempty"` // since the last painted frame
}

type keyEvent struct {
	key string
	rt  time.Duration
}

// WebSurface renders on a single browser tab connected over a websocket.
// The browser timestamps key presses against the paint of the last frame.
type WebSurface struct {
	log *log.Logger
	srv *http.Server
	ln  net.Listener

	mu        sync.Mutex // guards conn, connected and writes
	conn      *websocket.Conn
	connected bool
	ready     chan struct{}
	gone      chan struct{}

	keys   chan keyEvent
	onsets chan int64
	seq    int64

	closeOnce sync.Once
	closeErr  error
}

// NewWeb starts the display server on addr. The page is served at "/" and the
// websocket at "/ws". Call WaitForClient before drawing.
func NewWeb(addr string, l *log.Logger) (*WebSurface, error) {
	if l == nil {
		l = logger.New("display")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("display listen %s: %w", addr, err)
	}
	w := &WebSurface{
		log:    l,
		ln:     ln,
		ready:  make(chan struct{}),
		gone:   make(chan struct{}),
		keys:   make(chan keyEvent, 32),
		onsets: make(chan int64, 8),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(rw, r)
			return
		}
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = rw.Write(displayPage)
	})
	mux.HandleFunc("/ws", w.handleWS)
	w.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("display server stopped", "err", err)
		}
	}()
	w.log.Info("display server listening", "addr", ln.Addr().String())
	return w, nil
}

// Addr returns the listening address.
func (w *WebSurface) Addr() string {
	return w.ln.Addr().String()
}

func (w *WebSurface) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Error("websocket upgrade failed", "err", err)
		return
	}

	w.mu.Lock()
	if w.connected {
		w.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "display already connected")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		w.log.Warn("rejected second display client", "remote", r.RemoteAddr)
		return
	}
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	w.log.Info("display client connected", "remote", r.RemoteAddr)
	close(w.ready)
	go w.readPump(conn)
}

// readPump forwards key presses and paint confirmations until the socket closes.
func (w *WebSurface) readPump(conn *websocket.Conn) {
	defer close(w.gone)
	for {
		var m clientMessage
		if err := conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Warn("display read failed", "err", err)
			}
			return
		}
		switch m.Type {
		case "key":
			ev := keyEvent{key: m.Key, rt: time.Duration(m.RTMillis * float64(time.Millisecond))}
			select {
			case w.keys <- ev:
			default:
				w.log.Warn("key buffer full, dropping key", "key", m.Key)
			}
		case "onset":
			select {
			case w.onsets <- m.Seq:
			default:
			}
		default:
			w.log.Debug("unknown display message", "type", m.Type)
		}
	}
}

// WaitForClient blocks until a browser connects, timeout passes, or ctx ends.
func (w *WebSurface) WaitForClient(ctx context.Context, timeout time.Duration) error {
	w.log.Info("waiting for display client", "url", "http://"+w.Addr()+"/")
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("no display client connected within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WebSurface) send(m serverMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrClosed
	}
	if err := w.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("display write: %w", err)
	}
	return nil
}

func (w *WebSurface) drainKeys() {
	for {
		select {
		case <-w.keys:
		default:
			return
		}
	}
}

func (w *WebSurface) DisplayText(ctx context.Context, text string, opts TextOptions) (string, error) {
	w.drainKeys()
	if err := w.send(serverMessage{Type: "text", Text: text, Color: opts.Color, Background: opts.Background}); err != nil {
		return "", err
	}
	if len(opts.WaitKeys) == 0 {
		return "", nil
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-w.gone:
			return "", fmt.Errorf("%w: display disconnected", ErrClosed)
		case ev := <-w.keys:
			if contains(opts.WaitKeys, ev.key) {
				return ev.key, nil
			}
		}
	}
}

func (w *WebSurface) PresentStimulus(ctx context.Context, frame Frame) (time.Time, error) {
	w.drainKeys()
	w.seq++
	seq := w.seq
	sent := time.Now()
	if err := w.send(serverMessage{Type: "frame", Seq: seq, Frame: &frame}); err != nil {
		return time.Time{}, err
	}

	timer := time.NewTimer(onsetTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-w.gone:
			return time.Time{}, fmt.Errorf("%w: display disconnected", ErrClosed)
		case <-timer.C:
			w.log.Warn("display did not confirm frame onset", "kind", frame.Kind, "seq", seq)
			return sent, nil
		case got := <-w.onsets:
			if got == seq {
				return time.Now(), nil
			}
		}
	}
}

func (w *WebSurface) AwaitResponse(ctx context.Context, timeout time.Duration, keys []string) (Response, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-w.gone:
			return Response{}, fmt.Errorf("%w: display disconnected", ErrClosed)
		case <-deadline:
			return Response{TimedOut: true, RT: timeout}, nil
		case ev := <-w.keys:
			if contains(keys, ev.key) {
				return Response{Key: ev.key, RT: ev.rt}, nil
			}
		}
	}
}

// Close tells the page to blank, closes the socket and stops the server.
func (w *WebSurface) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		conn := w.conn
		w.conn = nil
		w.mu.Unlock()
		if conn != nil {
			_ = conn.WriteJSON(serverMessage{Type: "close"})
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "experiment finished")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		w.closeErr = w.srv.Shutdown(ctx)
		w.log.Info("display closed")
	})
	return w.closeErr
}
