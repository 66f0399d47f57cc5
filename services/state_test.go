package services

import (
	"testing"

	"derby-service/models"
)

func TestRaceViewsAreCopies(t *testing.T) {
	state := NewAppState()
	state.SetRace(&models.RaceView{RaceID: "race-1", State: models.PhaseCommitted})

	view := state.Race("race-1")
	view.State = models.PhaseFinished

	if got := state.Race("race-1"); got.State != models.PhaseCommitted {
		t.Errorf("Mutating a returned view leaked into the projection: %s", got.State)
	}
}

func TestRacesSnapshotIsSorted(t *testing.T) {
	state := NewAppState()
	state.SetRace(&models.RaceView{RaceID: "race-b"})
	state.SetRace(&models.RaceView{RaceID: "race-a"})

	views := state.Races()
	if len(views) != 2 {
		t.Fatalf("Expected 2 races, got %d", len(views))
	}
	if views[0].RaceID != "race-a" || views[1].RaceID != "race-b" {
		t.Errorf("Expected sorted snapshot, got %s, %s", views[0].RaceID, views[1].RaceID)
	}
}

func TestTakeSeedRemoves(t *testing.T) {
	state := NewAppState()
	state.PutSeed("race-1", "seed-value")

	seed, ok := state.TakeSeed("race-1")
	if !ok || seed != "seed-value" {
		t.Fatalf("Expected seed-value, got %q (ok=%v)", seed, ok)
	}

	if _, ok := state.TakeSeed("race-1"); ok {
		t.Error("Expected seed to be removed after take")
	}
}
