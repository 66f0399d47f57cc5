package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"derby-service/config"
	"derby-service/services"
)

type Server struct {
	config       *config.Config
	db           *sql.DB
	wsHub        *Hub
	state        *services.AppState
	provisioner  *services.Provisioner
	orchestrator *services.Orchestrator
	bets         *services.BetService
	resolver     *services.Resolver
	eventStore   *services.EventStore
	httpServer   *http.Server
	upgrader     websocket.Upgrader
}

func NewServer(cfg *config.Config, db *sql.DB, hub *Hub, state *services.AppState, provisioner *services.Provisioner, orchestrator *services.Orchestrator, bets *services.BetService, resolver *services.Resolver, eventStore *services.EventStore) *Server {
	return &Server{
		config:       cfg,
		db:           db,
		wsHub:        hub,
		state:        state,
		provisioner:  provisioner,
		orchestrator: orchestrator,
		bets:         bets,
		resolver:     resolver,
		eventStore:   eventStore,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源(生产环境需要限制)
			},
		},
	}
}

func (s *Server) Start() error {
	router := mux.NewRouter()

	// API路由
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/bootstrap", s.handleBootstrap).Methods("POST")
	api.HandleFunc("/races", s.handleCreateRace).Methods("POST")
	api.HandleFunc("/races/{race_id}/bet", s.handlePlaceBet).Methods("POST")
	api.HandleFunc("/races/{race_id}/events", s.handleRaceEvents).Methods("GET")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/accounts/{player}", s.handleGetAccount).Methods("GET")

	// WebSocket路由
	router.HandleFunc("/ws", s.handleWebSocket)

	// CORS配置
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(router)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Unix(),
		"races":  s.orchestrator.RunningRaces(),
	})
}

// handleWebSocket 观察者接入
// 先推送hello与当前快照，再进入广播流；错过的历史事件不补发
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:     s.wsHub,
		conn:    conn,
		send:    make(chan []byte, 256),
		raceIDs: make(map[string]bool),
	}

	for _, msg := range snapshotEvents(s.state.Races()) {
		client.send <- msg
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// writeJSON 输出JSON响应
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
