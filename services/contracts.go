package services

import (
	"encoding/json"
	"fmt"

	"derby-service/ledger"
	"derby-service/models"
)

// Ledger 账本网关接口，由ledger.Client实现，测试中用内存假账本替换
type Ledger interface {
	AllocateParty(hint string) (string, error)
	ListParties(filter string) ([]string, error)
	ListActiveByTemplate(party, templateID string) ([]ledger.Contract, error)
	Create(party, templateID string, args map[string]interface{}) (string, error)
	Exercise(party, templateID, contractID, choice string, args map[string]interface{}) (json.RawMessage, error)
}

// activeRace 查找某场比赛的唯一活跃Race合约
// 账本保证每个raceId同一时刻至多一个活跃Race；0个或多个都是一致性问题
func activeRace(l Ledger, t ledger.TemplateIDs, operatorParty, raceID string) (ledger.Contract, *models.RacePayload, error) {
	contracts, err := l.ListActiveByTemplate(operatorParty, t.Race)
	if err != nil {
		return ledger.Contract{}, nil, err
	}

	var matched []ledger.Contract
	var payloads []*models.RacePayload
	for _, c := range contracts {
		var payload models.RacePayload
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			return ledger.Contract{}, nil, fmt.Errorf("decode race payload: %w", err)
		}
		if payload.Operator == operatorParty && payload.RaceID == raceID {
			matched = append(matched, c)
			payloads = append(payloads, &payload)
		}
	}

	if len(matched) != 1 {
		return ledger.Contract{}, nil, &models.AmbiguousStateError{
			Template: "Race",
			Key:      "raceId=" + raceID,
			Count:    len(matched),
		}
	}
	return matched[0], payloads[0], nil
}

// activeAccount 查找玩家的唯一活跃PlayerAccount合约
func activeAccount(l Ledger, t ledger.TemplateIDs, operatorParty, playerParty string) (ledger.Contract, *models.PlayerAccountPayload, error) {
	contracts, err := l.ListActiveByTemplate(operatorParty, t.PlayerAccount)
	if err != nil {
		return ledger.Contract{}, nil, err
	}

	var matched []ledger.Contract
	var payloads []*models.PlayerAccountPayload
	for _, c := range contracts {
		var payload models.PlayerAccountPayload
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			return ledger.Contract{}, nil, fmt.Errorf("decode account payload: %w", err)
		}
		if payload.Operator == operatorParty && payload.Player == playerParty {
			matched = append(matched, c)
			payloads = append(payloads, &payload)
		}
	}

	if len(matched) != 1 {
		return ledger.Contract{}, nil, &models.AmbiguousStateError{
			Template: "PlayerAccount",
			Key:      "player=" + playerParty,
			Count:    len(matched),
		}
	}
	return matched[0], payloads[0], nil
}

// ensureOperatorContract 幂等地确保Operator合约存在，返回合约id
func ensureOperatorContract(l Ledger, t ledger.TemplateIDs, operatorParty string) (string, error) {
	contracts, err := l.ListActiveByTemplate(operatorParty, t.Operator)
	if err != nil {
		return "", err
	}

	for _, c := range contracts {
		var payload struct {
			Operator string `json:"operator"`
		}
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			continue
		}
		if payload.Operator == operatorParty {
			return c.ContractID, nil
		}
	}

	return l.Create(operatorParty, t.Operator, map[string]interface{}{
		"operator": operatorParty,
	})
}

// refreshRace 从账本重新读取比赛并整体替换投影中的视图
func refreshRace(l Ledger, t ledger.TemplateIDs, state *AppState, operatorParty, raceID string) (*models.RaceView, error) {
	contract, payload, err := activeRace(l, t, operatorParty, raceID)
	if err != nil {
		return nil, err
	}

	positions := payload.Positions
	if positions == nil {
		positions = []models.HorsePosition{}
	}

	view := &models.RaceView{
		RaceID:          raceID,
		ContractID:      contract.ContractID,
		State:           payload.State,
		SeedCommitment:  payload.SeedCommitment,
		BettingDeadline: payload.BettingDeadline,
		Winner:          payload.Winner,
		Positions:       positions,
		TickNumber:      int(payload.TickNumber),
	}
	state.SetRace(view)
	return view, nil
}
