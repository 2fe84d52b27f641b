// Command engram-events runs a long-lived daemon that opens the configured
// store, constructs an Engine, and broadcasts every event published on its
// bus (memory_stored, memory_recalled, evolution_batch, port_degraded, ...)
// to connected WebSocket clients. It is the external adapter spec.md §6
// describes as "the event bus a caller subscribes to" made concrete over
// the wire, grounded on the teacher's WebSocketHub
// (web/handlers/websocket.go) for the connection-registry/broadcast-loop
// shape and on memento-web/main.go for the engine-plus-signal-handling
// wiring around it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/engine"
	"github.com/fenwick/engram/internal/events"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/internal/storage/postgres"
	"github.com/fenwick/engram/internal/storage/sqlite"
)

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.New(cfg.Storage.DSN)
	case "sqlite", "":
		return sqlite.New(cfg.Storage.DSN)
	default:
		log.Fatalf("engram-events: unknown storage engine %q", cfg.Storage.StorageEngine)
		return nil, nil
	}
}

func main() {
	addr := flag.String("addr", ":6464", "address to listen on for WebSocket connections")
	path := flag.String("path", "/events", "HTTP path the WebSocket endpoint is served on")
	flag.Parse()

	cfg := config.Load()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("engram-events: open store: %v", err)
	}
	defer store.Close()

	e, err := engine.New(store, nil, nil, cfg)
	if err != nil {
		log.Fatalf("engram-events: construct engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Start(ctx); err != nil {
		log.Fatalf("engram-events: start engine: %v", err)
	}

	hub := newHub()
	go hub.run(ctx)
	go pumpEvents(ctx, e.Events(), hub)

	mux := http.NewServeMux()
	mux.HandleFunc(*path, hub.serveHTTP)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("engram-events: serving WebSocket events on %s%s", *addr, *path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("engram-events: listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("engram-events: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	hub.stop()
	cancel()
	if err := e.Shutdown(context.Background()); err != nil {
		log.Printf("engram-events: engine shutdown: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
}

// pumpEvents drains the engine's event bus and hands each event to the hub
// for broadcast, for as long as ctx is live. The subscription is buffered so
// a burst of events (an evolve-now cycle publishing one batch summary, or a
// recall fanning out hits) never blocks the engine's single-writer call to
// Publish on a slow WebSocket fan-out.
func pumpEvents(ctx context.Context, bus *events.Bus, hub *hub) {
	sub := bus.Subscribe(256)
	defer sub.Unsubscribe()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			hub.broadcast(ev)
		case <-ctx.Done():
			return
		}
	}
}

// hub manages WebSocket connections and fans out bus events to all of them,
// mirroring the teacher's WebSocketHub (register/unregister/broadcast
// channels serialized through one select loop) generalized from one
// fixed-shape status message to the typed events.Event stream.
type hub struct {
	clients    map[*client]bool
	broadcastC chan events.Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub() *hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &hub{
		clients:    make(map[*client]bool),
		broadcastC: make(chan events.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcastC:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("engram-events: marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *hub) broadcast(ev events.Event) {
	select {
	case h.broadcastC <- ev:
	default:
		log.Println("engram-events: broadcast channel full, dropping event")
	}
}

func (h *hub) stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*client]bool)
}

func (h *hub) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("engram-events: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	go c.writePump(h)
	c.readPump(h)
}

func (c *client) writePump(h *hub) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump just drains incoming frames to detect client disconnects; this
// endpoint is broadcast-only, it takes no subscription filters from the
// client yet.
func (c *client) readPump(h *hub) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
