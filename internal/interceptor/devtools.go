package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/funnyzak/reportsync/internal/logger"
)

// DevToolsObserver follows a browser tab through the Chrome DevTools protocol
// and feeds its outgoing requests to the interceptor.
type DevToolsObserver struct {
	url            string
	interceptor    *Interceptor
	logger         logger.Logger
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
}

// NewDevToolsObserver creates an observer for a page websocket debugger URL.
// A zero reconnect delay disables reconnection.
func NewDevToolsObserver(url string, i *Interceptor, log logger.Logger, reconnectDelay time.Duration) *DevToolsObserver {
	return &DevToolsObserver{
		url:            url,
		interceptor:    i,
		logger:         log.With("devtools"),
		reconnectDelay: reconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

type cdpMessage struct {
	ID     int             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Run observes until ctx is cancelled, reconnecting after failures.
func (d *DevToolsObserver) Run(ctx context.Context) error {
	for {
		err := d.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if d.reconnectDelay <= 0 {
			return err
		}
		d.logger.Warn("DevTools session ended, reconnecting",
			"error", err,
			"delay", d.reconnectDelay,
		)
		timer := time.NewTimer(d.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (d *DevToolsObserver) session(ctx context.Context) error {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("connect devtools: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(cdpMessage{ID: 1, Method: "Network.enable", Params: json.RawMessage(`{}`)}); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	d.logger.Info("DevTools observer connected", "url", d.url)

	for {
		var msg cdpMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read devtools message: %w", err)
		}
		if msg.Error != nil {
			d.logger.Warn("DevTools command failed", "id", msg.ID, "error", msg.Error.Message)
			continue
		}
		if msg.Method != requestWillBeSent {
			continue
		}
		ev, err := eventFromCDP(msg.Params)
		if err != nil {
			d.logger.Debug("Skipping undecodable devtools event", "error", err)
			continue
		}
		if err := d.interceptor.Observe(ev); err != nil && errors.Is(err, ErrClosed) {
			return nil
		}
	}
}
