package web

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"derby-service/models"
)

// Client WebSocket观察者
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	filterMu sync.RWMutex
	raceIDs  map[string]bool // 比赛过滤器，为空时接收全部
}

// Hub 观察者集线器
// 投递是best-effort: 发送缓冲满或连接不可用的观察者被跳过并移除，从不重试。
// 没有缓冲和回放，中途接入的观察者只收到连接时的状态快照。
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub 创建新的Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Observer connected. Total: %d", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Observer disconnected. Total: %d", total)

		case message := <-h.broadcast:
			raceID := peekRaceID(message)

			h.mu.RLock()
			var dropped []*Client
			for client := range h.clients {
				if !client.wantsRace(raceID) {
					continue
				}
				select {
				case client.send <- message:
				default:
					dropped = append(dropped, client)
				}
			}
			h.mu.RUnlock()

			if len(dropped) > 0 {
				h.mu.Lock()
				for _, client := range dropped {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast 广播事件给所有观察者(实现services.EventBroadcaster接口)
func (h *Hub) Broadcast(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Failed to marshal event: %v", err)
		return
	}
	h.broadcast <- data
}

// peekRaceID 从序列化后的事件中提取raceId用于过滤
func peekRaceID(message []byte) string {
	var probe struct {
		RaceID string `json:"raceId"`
		Race   *struct {
			RaceID string `json:"raceId"`
		} `json:"race"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		return ""
	}
	if probe.RaceID != "" {
		return probe.RaceID
	}
	if probe.Race != nil {
		return probe.Race.RaceID
	}
	return ""
}

// wantsRace 检查观察者是否订阅了该比赛
func (c *Client) wantsRace(raceID string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()

	if len(c.raceIDs) == 0 || raceID == "" {
		return true
	}
	return c.raceIDs[raceID]
}

// readPump 读取观察者消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump 向观察者写入消息
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()

	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleMessage 处理观察者发来的订阅指令
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type    string   `json:"type"`
		RaceIDs []string `json:"race_ids"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("[WS] Failed to unmarshal observer message: %v", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		filter := make(map[string]bool)
		for _, id := range msg.RaceIDs {
			filter[id] = true
		}
		c.filterMu.Lock()
		c.raceIDs = filter
		c.filterMu.Unlock()
		log.Printf("[WS] Observer subscribed to races: %v", msg.RaceIDs)

	case "unsubscribe":
		c.filterMu.Lock()
		c.raceIDs = make(map[string]bool)
		c.filterMu.Unlock()
		log.Println("[WS] Observer unsubscribed")
	}
}

// snapshotEvents 新连接时推送的初始消息: hello + 当前比赛快照
func snapshotEvents(races []*models.RaceView) [][]byte {
	hello, _ := json.Marshal(&models.Event{Type: models.EventHello})
	snapshot, _ := json.Marshal(&models.Event{Type: models.EventState, Races: races})
	return [][]byte{hello, snapshot}
}
