// Package client provides realtime subscription support for Supabase.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// RealtimeClient handles Supabase Realtime subscriptions.
type RealtimeClient struct {
	mu       sync.RWMutex
	url      string
	apiKey   string
	conn     *websocket.Conn
	handlers map[string][]ChangeHandler
	done     chan struct{}
	ref      int
}

// ChangeHandler receives a postgres row change.
type ChangeHandler func(change Change)

// Change is a decoded postgres_changes event.
type Change struct {
	Event  string // INSERT, UPDATE, DELETE
	Schema string
	Table  string
	Record []byte // new row as JSON, nil for DELETE
}

// NewRealtimeClient creates a new realtime client.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := supabaseURL
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[5:]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:      wsURL,
		apiKey:   apiKey,
		handlers: make(map[string][]ChangeHandler),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil // Already connected
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.handleMessages()
	go r.heartbeat()

	return nil
}

// Disconnect closes the WebSocket connection.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)

	err := r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.conn.Close()
	r.conn = nil
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// SubscribeToChanges joins a postgres_changes channel for a table. The
// optional filter narrows the subscription, e.g. "id=eq.<uuid>".
func (r *RealtimeClient) SubscribeToChanges(ctx context.Context, schema, table, filter string, handler ChangeHandler) error {
	if schema == "" {
		schema = "public"
	}

	topic := fmt.Sprintf("realtime:%s:%s", schema, table)
	if filter != "" {
		topic += ":" + filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return fmt.Errorf("realtime client not connected")
	}

	r.handlers[topic] = append(r.handlers[topic], handler)

	r.ref++
	ref := fmt.Sprintf("%d", r.ref)
	join := map[string]any{
		"topic": topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]any{
					{"event": "*", "schema": schema, "table": table, "filter": filter},
				},
			},
		},
		"ref":      ref,
		"join_ref": ref,
	}

	if err := r.conn.WriteJSON(join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

func (r *RealtimeClient) handleMessages() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Connection closed
			return
		}

		r.dispatch(message)
	}
}

// dispatch decodes a raw phoenix frame and fans the change out to the
// handlers registered for its topic.
func (r *RealtimeClient) dispatch(message []byte) {
	root := gjson.ParseBytes(message)
	if root.Get("event").String() != "postgres_changes" {
		return
	}

	topic := root.Get("topic").String()
	data := root.Get("payload.data")

	change := Change{
		Event:  data.Get("type").String(),
		Schema: data.Get("schema").String(),
		Table:  data.Get("table").String(),
	}
	if rec := data.Get("record"); rec.Exists() {
		change.Record = []byte(rec.Raw)
	}

	r.mu.RLock()
	handlers := r.handlers[topic]
	r.mu.RUnlock()

	for _, handler := range handlers {
		go handler(change)
	}
}

func (r *RealtimeClient) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				r.ref++
				msg := map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     fmt.Sprintf("%d", r.ref),
				}
				r.conn.WriteJSON(msg)
			}
			r.mu.Unlock()
		}
	}
}
