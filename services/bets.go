package services

import (
	"encoding/json"
	"log"

	"derby-service/config"
	"derby-service/ledger"
	"derby-service/models"
)

// BetService 投注入口: 玩家先在自己账户上登记投注请求，再由operator接受成为可结算的Bet
type BetService struct {
	cfg         *config.Config
	ledger      Ledger
	templates   ledger.TemplateIDs
	state       *AppState
	resolver    *Resolver
	broadcaster EventBroadcaster
}

// NewBetService 创建bet service
func NewBetService(cfg *config.Config, l Ledger, t ledger.TemplateIDs, state *AppState, resolver *Resolver, broadcaster EventBroadcaster) *BetService {
	return &BetService{
		cfg:         cfg,
		ledger:      l,
		templates:   t,
		state:       state,
		resolver:    resolver,
		broadcaster: broadcaster,
	}
}

// PlaceBet 为玩家在指定比赛上下注
// 阶段门禁基于投影判断，不通过时不向账本发出任何命令
func (b *BetService) PlaceBet(raceID, playerHint, horse string, amount float64) (json.RawMessage, error) {
	if !models.ValidHorse(horse) {
		return nil, &models.InvalidSelectionError{Horse: horse}
	}
	if amount <= 0 {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	view := b.state.Race(raceID)
	if view == nil {
		return nil, &models.ValidationError{Field: "raceId", Reason: "unknown race: " + raceID}
	}
	if view.State != models.PhaseCommitted {
		return nil, &models.BettingClosedError{RaceID: raceID, State: view.State}
	}

	operatorParty, err := b.resolver.Resolve(b.cfg.OperatorPartyHint)
	if err != nil {
		return nil, err
	}
	playerParty, err := b.resolver.Resolve(playerHint)
	if err != nil {
		return nil, err
	}

	account, accountPayload, err := activeAccount(b.ledger, b.templates, operatorParty, playerParty)
	if err != nil {
		return nil, err
	}
	if float64(accountPayload.Balance) < amount {
		return nil, &models.InsufficientBalanceError{
			Player:  playerHint,
			Balance: float64(accountPayload.Balance),
			Amount:  amount,
		}
	}

	race, _, err := activeRace(b.ledger, b.templates, operatorParty, raceID)
	if err != nil {
		return nil, err
	}

	// 玩家登记投注请求，账户同时扣押本金
	requestResult, err := b.ledger.Exercise(playerParty, b.templates.PlayerAccount, account.ContractID, "PlaceBetRequest", map[string]interface{}{
		"raceId": raceID,
		"horse":  horse,
		"amount": models.FormatAmount(amount),
	})
	if err != nil {
		return nil, err
	}

	var betRequestCid string
	if err := json.Unmarshal(requestResult, &betRequestCid); err != nil {
		return nil, &models.ValidationError{Field: "betRequest", Reason: "unexpected PlaceBetRequest result"}
	}

	// operator接受投注，账本校验余额与单马赔付敞口
	accepted, err := b.ledger.Exercise(operatorParty, b.templates.BetRequest, betRequestCid, "AcceptBet", map[string]interface{}{
		"accountCid":           account.ContractID,
		"raceCid":              race.ContractID,
		"maxLiabilityPerHorse": models.FormatAmount(b.cfg.MaxLiabilityPerHorse),
		"currentTime":          ledgerNow(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Bets] Accepted bet: race=%s player=%s horse=%s amount=%s", raceID, playerHint, horse, models.FormatAmount(amount))

	if updated, err := refreshRace(b.ledger, b.templates, b.state, operatorParty, raceID); err == nil {
		b.broadcaster.Broadcast(&models.Event{Type: models.EventRaceUpdate, Race: updated})
	}

	return accepted, nil
}

// GetBalance 查询玩家当前余额，返回余额与解析出的party
func (b *BetService) GetBalance(playerHint string) (float64, string, error) {
	operatorParty, err := b.resolver.Resolve(b.cfg.OperatorPartyHint)
	if err != nil {
		return 0, "", err
	}
	playerParty, err := b.resolver.Resolve(playerHint)
	if err != nil {
		return 0, "", err
	}

	_, payload, err := activeAccount(b.ledger, b.templates, operatorParty, playerParty)
	if err != nil {
		return 0, "", err
	}
	return float64(payload.Balance), playerParty, nil
}
