package models

import (
	"encoding/json"
	"testing"
)

func TestRacePayloadDecodesTuplePositions(t *testing.T) {
	raw := `{
		"operator": "Operator::abc",
		"raceId": "race-1",
		"seedCommitment": "deadbeef",
		"state": "Running",
		"bettingDeadline": "2026-01-01T00:00:00Z",
		"winner": null,
		"positions": [["Red", "42"], ["Blue", 10]],
		"tickNumber": "7"
	}`

	var payload RacePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if payload.State != PhaseRunning {
		t.Errorf("Expected state Running, got %s", payload.State)
	}
	if payload.Winner != nil {
		t.Errorf("Expected nil winner, got %v", payload.Winner)
	}
	if int(payload.TickNumber) != 7 {
		t.Errorf("Expected tick 7, got %d", payload.TickNumber)
	}
	if len(payload.Positions) != 2 {
		t.Fatalf("Expected 2 positions, got %d", len(payload.Positions))
	}
	if payload.Positions[0].Horse != "Red" || payload.Positions[0].Position != 42 {
		t.Errorf("Unexpected first position: %+v", payload.Positions[0])
	}
	if payload.Positions[1].Horse != "Blue" || payload.Positions[1].Position != 10 {
		t.Errorf("Unexpected second position: %+v", payload.Positions[1])
	}
}

func TestRacePayloadDecodesRecordPositions(t *testing.T) {
	raw := `{
		"operator": "Operator::abc",
		"raceId": "race-1",
		"seedCommitment": "deadbeef",
		"state": "Finished",
		"bettingDeadline": "2026-01-01T00:00:00Z",
		"winner": "Green",
		"positions": [{"_1": "Green", "_2": "100"}],
		"tickNumber": 12
	}`

	var payload RacePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if payload.Winner == nil || *payload.Winner != "Green" {
		t.Errorf("Expected winner Green, got %v", payload.Winner)
	}
	if payload.Positions[0].Horse != "Green" || payload.Positions[0].Position != 100 {
		t.Errorf("Unexpected position: %+v", payload.Positions[0])
	}
}

func TestAccountPayloadDecodesStringBalance(t *testing.T) {
	raw := `{"operator": "Operator::abc", "player": "Alice::xyz", "balance": "87.5"}`

	var payload PlayerAccountPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if float64(payload.Balance) != 87.5 {
		t.Errorf("Expected balance 87.5, got %v", payload.Balance)
	}
}

func TestValidHorse(t *testing.T) {
	if !ValidHorse("Purple") {
		t.Error("Purple should be a valid horse")
	}
	if ValidHorse("Octarine") {
		t.Error("Octarine should not be a valid horse")
	}
}
