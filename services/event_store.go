package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"derby-service/models"
)

// EventStore 把广播过的生命周期事件落库，供晚接入的观察者按需回放
// 实时推送仍是best-effort，不因落库失败而受影响
type EventStore struct {
	db *sql.DB
}

// NewEventStore 创建event store
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Record 保存单个事件(实现EventRecorder接口)
func (s *EventStore) Record(raceID string, event *models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[EventStore] Failed to marshal event: %v", err)
		return
	}

	query := `
		INSERT INTO race_events (race_id, event_type, payload)
		VALUES ($1, $2, $3)
	`

	var raceIDPtr *string
	if raceID != "" {
		raceIDPtr = &raceID
	}

	if _, err := s.db.Exec(query, raceIDPtr, event.Type, string(payload)); err != nil {
		log.Printf("[EventStore] Failed to save event: %v", err)
	}
}

// RecordSettlement 保存结算结果(实现SettlementRecorder接口)
func (s *EventStore) RecordSettlement(raceID, betCid, player, horse string, amount float64, outcome string) {
	query := `
		INSERT INTO bet_settlements (race_id, bet_contract_id, player, horse, amount, outcome)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := s.db.Exec(query, raceID, betCid, player, horse, amount, outcome); err != nil {
		log.Printf("[EventStore] Failed to save settlement: %v", err)
	}
}

// GetRaceEvents 获取某场比赛的事件历史
func (s *EventStore) GetRaceEvents(raceID string) ([]map[string]interface{}, error) {
	query := `
		SELECT id, event_type, payload, created_at
		FROM race_events
		WHERE race_id = $1
		ORDER BY id ASC
	`

	rows, err := s.db.Query(query, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []map[string]interface{}
	for rows.Next() {
		var (
			id        int64
			eventType string
			payload   string
			createdAt time.Time
		)

		if err := rows.Scan(&id, &eventType, &payload, &createdAt); err != nil {
			return nil, err
		}

		event := map[string]interface{}{
			"id":         id,
			"event_type": eventType,
			"created_at": createdAt,
		}

		var decoded interface{}
		if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
			event["payload"] = decoded
		} else {
			event["payload"] = payload
		}

		events = append(events, event)
	}

	return events, nil
}
