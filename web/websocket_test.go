package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"derby-service/config"
	"derby-service/models"
	"derby-service/services"
)

func dialObserver(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(url, "http", "ws", 1), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *models.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Unmarshal event: %v", err)
	}
	return &event
}

func TestObserverConnectingMidRaceGetsOnlySnapshot(t *testing.T) {
	state := services.NewAppState()
	state.SetRace(&models.RaceView{RaceID: "race-1", State: models.PhaseRunning})

	hub := NewHub()
	go hub.Run()

	server := NewServer(&config.Config{Port: "0"}, nil, hub, state, nil, nil, nil, nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))
	defer ts.Close()

	// 第一个观察者在比赛早期接入
	first := dialObserver(t, ts.URL)
	defer first.Close()

	if event := readEvent(t, first); event.Type != models.EventHello {
		t.Fatalf("Expected hello, got %s", event.Type)
	}
	if event := readEvent(t, first); event.Type != models.EventState {
		t.Fatalf("Expected state snapshot, got %s", event.Type)
	}

	// 比赛进行中的一次更新，只有已连接的观察者能看到
	hub.Broadcast(&models.Event{
		Type: models.EventRaceUpdate,
		Race: &models.RaceView{RaceID: "race-1", State: models.PhaseRunning, TickNumber: 7},
	})
	if event := readEvent(t, first); event.Type != models.EventRaceUpdate {
		t.Fatalf("Expected race:update for first observer, got %s", event.Type)
	}

	// 第二个观察者中途接入: 只收到hello和当前快照，不补发历史事件
	second := dialObserver(t, ts.URL)
	defer second.Close()

	if event := readEvent(t, second); event.Type != models.EventHello {
		t.Fatalf("Expected hello for late observer, got %s", event.Type)
	}
	snapshot := readEvent(t, second)
	if snapshot.Type != models.EventState {
		t.Fatalf("Expected state snapshot for late observer, got %s", snapshot.Type)
	}
	if len(snapshot.Races) != 1 || snapshot.Races[0].RaceID != "race-1" {
		t.Fatalf("Expected snapshot with race-1, got %+v", snapshot.Races)
	}

	hub.Broadcast(&models.Event{Type: models.EventRaceFinished, RaceID: "race-1"})

	// 中途接入者的下一条消息必须是新事件，而不是它错过的race:update
	if event := readEvent(t, second); event.Type != models.EventRaceFinished {
		t.Fatalf("Late observer received replayed event %s instead of race:finished", event.Type)
	}
	if event := readEvent(t, first); event.Type != models.EventRaceFinished {
		t.Fatalf("Expected race:finished for first observer, got %s", event.Type)
	}
}

func TestSubscribeFilterNarrowsDelivery(t *testing.T) {
	state := services.NewAppState()

	hub := NewHub()
	go hub.Run()

	server := NewServer(&config.Config{Port: "0"}, nil, hub, state, nil, nil, nil, nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))
	defer ts.Close()

	conn := dialObserver(t, ts.URL)
	defer conn.Close()

	readEvent(t, conn) // hello
	readEvent(t, conn) // state

	sub, _ := json.Marshal(map[string]interface{}{
		"type":     "subscribe",
		"race_ids": []string{"race-2"},
	})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	// 等订阅指令被readPump处理
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(&models.Event{Type: models.EventRaceFinished, RaceID: "race-1"})
	hub.Broadcast(&models.Event{Type: models.EventRaceFinished, RaceID: "race-2"})

	event := readEvent(t, conn)
	if event.RaceID != "race-2" {
		t.Fatalf("Expected only race-2 events after subscribe, got %s", event.RaceID)
	}
}
