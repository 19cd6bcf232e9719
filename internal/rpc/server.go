// Package rpc provides C9: a JSON-RPC 2.0 surface exposing per-swap state
// and available actions plus node/peer introspection, trimmed from the
// teacher's exchange-wide RPC surface (order book, trades, wallet signing)
// to the methods an RFC003 daemon actually needs (spec.md §1/§6: contract
// only, but present and wired).
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/internal/coordinator"
	"github.com/klingon-exchange/swapd/internal/node"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

// Server is a JSON-RPC 2.0 server exposing the swap coordinator (C6) and
// node (C8) to local UIs.
type Server struct {
	node        *node.Node
	coordinator *coordinator.Coordinator
	log         *logging.Logger
	wsHub       *WSHub

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// CORSMode controls the Access-Control-Allow-Origin policy, matching
// spec.md §6's http_api.cors.allowed_origins option.
type CORSMode int

const (
	CORSNone CORSMode = iota
	CORSAll
	CORSList
)

// Config configures the HTTP surface: the socket to listen on and the CORS
// policy.
type Config struct {
	Socket         string
	CORSMode       CORSMode
	AllowedOrigins []string
}

// NewServer creates a new JSON-RPC server wired to n and coord.
func NewServer(n *node.Node, coord *coordinator.Coordinator) *Server {
	s := &Server{
		node:        n,
		coordinator: coord,
		log:         logging.GetDefault().Component("rpc"),
		handlers:    make(map[string]Handler),
		wsHub:       NewWSHub(),
	}

	s.registerHandlers()

	if coord != nil {
		coord.OnEvent(s.onSwapEvent)
	}
	if n != nil {
		n.OnPeerConnected(func(p peer.ID) {
			s.wsHub.Broadcast(EventPeerConnected, map[string]string{"peer_id": p.String()})
		})
		n.OnPeerDisconnected(func(p peer.ID) {
			s.wsHub.Broadcast(EventPeerDisconnected, map[string]string{"peer_id": p.String()})
		})
	}

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["node_info"] = s.nodeInfo
	s.handlers["node_status"] = s.nodeStatus

	// Peer methods
	s.handlers["peers_list"] = s.peersList
	s.handlers["peers_count"] = s.peersCount
	s.handlers["peers_connect"] = s.peersConnect
	s.handlers["peers_disconnect"] = s.peersDisconnect
	s.handlers["peers_known"] = s.peersKnown

	// Swap methods (spec.md §6: "current state summary and current actions
	// list" per swap id)
	s.handlers["swaps_list"] = s.swapsList
	s.handlers["swap_get"] = s.swapGet
	s.handlers["swap_actions"] = s.swapActions
	s.handlers["swaps_pending"] = s.swapsPending
	s.handlers["swap_accept"] = s.swapAccept
	s.handlers["swap_decline"] = s.swapDecline
	s.handlers["swap_initiate"] = s.swapInitiate
}

// Start runs the HTTP server. It returns once the server is listening;
// ListenAndServe runs in a background goroutine.
func (s *Server) Start(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Socket)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", cfg.Socket, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.corsWrap(cfg, s.handleHTTP))
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go s.wsHub.Run()
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("rpc server stopped", "error", err)
		}
	}()

	s.log.Info("RPC server listening", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) corsWrap(cfg Config, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch cfg.CORSMode {
		case CORSAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case CORSList:
			origin := r.Header.Get("Origin")
			for _, allowed := range cfg.AllowedOrigins {
				if allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		case CORSNone:
			// no CORS headers
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, Response{JSONRPC: "2.0", Error: &Error{Code: ParseError, Message: "parse error"}})
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: MethodNotFound, Message: "method not found"}})
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		writeJSON(w, Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: InvalidParams, Message: err.Error()}})
		return
	}

	writeJSON(w, Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// onSwapEvent forwards coordinator lifecycle events onto the WebSocket
// feed, matching the teacher's cmd/klingond/main.go wiring of rpc.WSHub.
func (s *Server) onSwapEvent(event coordinator.SwapEvent) {
	s.wsHub.Broadcast(EventSwapStateChanged, map[string]interface{}{
		"swap_id":    event.SwapId.String(),
		"event_type": event.EventType,
		"timestamp":  event.Timestamp.Unix(),
	})
}
