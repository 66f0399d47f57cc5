package services

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"derby-service/config"
	"derby-service/ledger"
	"derby-service/models"
)

// EventBroadcaster 接口用于向观察者广播事件，避免与web包循环依赖
type EventBroadcaster interface {
	Broadcast(event interface{})
}

// EventRecorder 可选的事件镜像(历史存储、AMQP发布)
type EventRecorder interface {
	Record(raceID string, event *models.Event)
}

// SettlementRecorder 可选的结算记录存储
type SettlementRecorder interface {
	RecordSettlement(raceID, betCid, player, horse string, amount float64, outcome string)
}

// Orchestrator 比赛编排器
// 每场比赛一个受监管的loop，推动状态机 Committed → BettingClosed → Running → Finished，
// 每次迁移都是一次远程choice + 投影刷新 + 广播。
// 账本是唯一的串行化权威，冲突恢复全部依赖网关的重试策略。
type Orchestrator struct {
	cfg         *config.Config
	ledger      Ledger
	templates   ledger.TemplateIDs
	state       *AppState
	fairness    *Fairness
	resolver    *Resolver
	broadcaster EventBroadcaster
	recorders   []EventRecorder
	settlements SettlementRecorder
	notifier    *LarkNotifier

	mu      sync.Mutex
	running map[string]bool
}

// NewOrchestrator 创建orchestrator
func NewOrchestrator(cfg *config.Config, l Ledger, t ledger.TemplateIDs, state *AppState, fairness *Fairness, resolver *Resolver, broadcaster EventBroadcaster) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		ledger:      l,
		templates:   t,
		state:       state,
		fairness:    fairness,
		resolver:    resolver,
		broadcaster: broadcaster,
		running:     make(map[string]bool),
	}
}

// AddRecorder 挂载事件镜像
func (o *Orchestrator) AddRecorder(r EventRecorder) {
	o.recorders = append(o.recorders, r)
}

// SetSettlementRecorder 挂载结算记录存储
func (o *Orchestrator) SetSettlementRecorder(r SettlementRecorder) {
	o.settlements = r
}

// SetNotifier 挂载告警通知器
func (o *Orchestrator) SetNotifier(n *LarkNotifier) {
	o.notifier = n
}

// CreateRace 创建比赛并启动其编排loop
// 返回raceId与已发布的种子承诺
func (o *Orchestrator) CreateRace(raceID string, bettingSeconds int) (string, string, error) {
	if raceID == "" {
		raceID = fmt.Sprintf("race-%d", time.Now().UnixMilli())
	}
	if bettingSeconds == 0 {
		bettingSeconds = 10
	}
	if bettingSeconds < 3 || bettingSeconds > 120 {
		return "", "", &models.ValidationError{Field: "bettingSeconds", Reason: "must be between 3 and 120"}
	}

	o.mu.Lock()
	if o.running[raceID] {
		o.mu.Unlock()
		return "", "", &models.ValidationError{Field: "raceId", Reason: "race already tracked: " + raceID}
	}
	o.mu.Unlock()

	operatorParty, err := o.resolver.Resolve(o.cfg.OperatorPartyHint)
	if err != nil {
		return "", "", err
	}
	operatorCid, err := ensureOperatorContract(o.ledger, o.templates, operatorParty)
	if err != nil {
		return "", "", err
	}

	_, commitment, err := o.fairness.Commit(raceID)
	if err != nil {
		return "", "", err
	}

	deadline := time.Now().Add(time.Duration(bettingSeconds) * time.Second).UTC().Format(time.RFC3339)
	if _, err := o.ledger.Exercise(operatorParty, o.templates.Operator, operatorCid, "CreateRace", map[string]interface{}{
		"raceId":          raceID,
		"seedCommitment":  commitment,
		"bettingDeadline": deadline,
	}); err != nil {
		return "", "", err
	}

	view, err := refreshRace(o.ledger, o.templates, o.state, operatorParty, raceID)
	if err != nil {
		return "", "", err
	}
	o.emit(raceID, &models.Event{Type: models.EventRaceUpdate, Race: view})

	log.Printf("[Orchestrator] Race created: raceId=%s, deadline=%s, commitment=%s", raceID, deadline, commitment)
	o.Launch(operatorParty, raceID)

	return raceID, commitment, nil
}

// Launch 启动比赛loop并登记到任务表，失败会被集中观察而不是静默丢弃
func (o *Orchestrator) Launch(operatorParty, raceID string) {
	o.mu.Lock()
	if o.running[raceID] {
		o.mu.Unlock()
		log.Printf("[Orchestrator] Loop already running for raceId=%s, ignoring launch", raceID)
		return
	}
	o.running[raceID] = true
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.running, raceID)
			o.mu.Unlock()
		}()

		if err := o.runRace(operatorParty, raceID); err != nil {
			log.Printf("[Orchestrator] ❌ Race loop failed: raceId=%s: %v", raceID, err)
			o.emit(raceID, &models.Event{Type: models.EventError, RaceID: raceID, Message: err.Error()})
			if o.notifier != nil {
				o.notifier.NotifyError("Race "+raceID, err.Error())
			}
		}
	}()
}

// RunningRaces 当前有loop在跑的比赛数
func (o *Orchestrator) RunningRaces() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// runRace 驱动一场比赛从创建到结算
// 致命错误只中止这一场比赛的编排，账本侧状态保持原样
func (o *Orchestrator) runRace(operatorParty, raceID string) error {
	view, err := refreshRace(o.ledger, o.templates, o.state, operatorParty, raceID)
	if err != nil {
		return err
	}
	o.emit(raceID, &models.Event{Type: models.EventRaceUpdate, Race: view})

	// 等到投注截止时刻
	if deadline, err := time.Parse(time.RFC3339, view.BettingDeadline); err == nil {
		wait := time.Until(deadline)
		if wait > 0 {
			o.emit(raceID, &models.Event{Type: models.EventRaceBetting, RaceID: raceID, ClosesInMs: wait.Milliseconds()})
			time.Sleep(wait)
		}
	}

	// 封盘
	current, _, err := activeRace(o.ledger, o.templates, operatorParty, raceID)
	if err != nil {
		return err
	}
	if _, err := o.ledger.Exercise(operatorParty, o.templates.Race, current.ContractID, "CloseBetting", map[string]interface{}{
		"currentTime": ledgerNow(),
	}); err != nil {
		return fmt.Errorf("close betting: %w", err)
	}
	if view, err = refreshRace(o.ledger, o.templates, o.state, operatorParty, raceID); err != nil {
		return err
	}
	o.emit(raceID, &models.Event{Type: models.EventRaceUpdate, Race: view})

	// 揭示种子
	seed, err := o.fairness.Reveal(raceID)
	if err != nil {
		return err
	}
	current, _, err = activeRace(o.ledger, o.templates, operatorParty, raceID)
	if err != nil {
		return err
	}
	if _, err := o.ledger.Exercise(operatorParty, o.templates.Race, current.ContractID, "RevealSeed", map[string]interface{}{
		"revealedSeed": seed,
	}); err != nil {
		return fmt.Errorf("reveal seed: %w", err)
	}
	if view, err = refreshRace(o.ledger, o.templates, o.state, operatorParty, raceID); err != nil {
		return err
	}
	o.emit(raceID, &models.Event{Type: models.EventRaceUpdate, Race: view})

	// tick到终态，赛道物理由账本负责，这里只观察结果
	for {
		current, payload, err := activeRace(o.ledger, o.templates, operatorParty, raceID)
		if err != nil {
			return err
		}
		if models.IsTerminalPhase(payload.State) {
			break
		}

		if _, err := o.ledger.Exercise(operatorParty, o.templates.Race, current.ContractID, "Tick", nil); err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		if view, err = refreshRace(o.ledger, o.templates, o.state, operatorParty, raceID); err != nil {
			return err
		}
		o.emit(raceID, &models.Event{Type: models.EventRaceUpdate, Race: view})

		time.Sleep(o.cfg.TickInterval)
	}

	if err := o.settleBets(operatorParty, raceID); err != nil {
		return err
	}

	o.emit(raceID, &models.Event{Type: models.EventRaceFinished, RaceID: raceID})
	log.Printf("[Orchestrator] ✅ Race finished: raceId=%s", raceID)

	if o.notifier != nil {
		winner := ""
		if view.Winner != nil {
			winner = *view.Winner
		}
		if err := o.notifier.NotifyRaceFinished(raceID, winner); err != nil {
			log.Printf("[Orchestrator] Failed to send finish notification: %v", err)
		}
	}
	return nil
}

// settleBets 结算本场比赛的所有Bet，赢家的Payout以玩家身份代为认领
// 重复结算由账本拒绝，这里额外用本地集合保证单次run内每个Bet只提交一次
func (o *Orchestrator) settleBets(operatorParty, raceID string) error {
	race, _, err := activeRace(o.ledger, o.templates, operatorParty, raceID)
	if err != nil {
		return err
	}

	bets, err := o.ledger.ListActiveByTemplate(operatorParty, o.templates.Bet)
	if err != nil {
		return err
	}

	submitted := make(map[string]bool)
	for _, bet := range bets {
		var payload models.BetPayload
		if err := json.Unmarshal(bet.Payload, &payload); err != nil {
			return fmt.Errorf("decode bet payload: %w", err)
		}
		if payload.RaceID != raceID || submitted[bet.ContractID] {
			continue
		}
		submitted[bet.ContractID] = true

		result, err := o.ledger.Exercise(operatorParty, o.templates.Bet, bet.ContractID, "Settle", map[string]interface{}{
			"raceCid": race.ContractID,
		})
		if err != nil {
			return fmt.Errorf("settle bet %s: %w", bet.ContractID, err)
		}

		var settlement models.SettlementResult
		if len(result) > 0 {
			if err := json.Unmarshal(result, &settlement); err != nil {
				return fmt.Errorf("decode settlement result: %w", err)
			}
		}

		log.Printf("[Orchestrator] Settled bet: race=%s player=%s horse=%s outcome=%s", raceID, payload.Player, payload.Horse, settlement.Tag)
		if o.settlements != nil {
			o.settlements.RecordSettlement(raceID, bet.ContractID, payload.Player, payload.Horse, float64(payload.Amount), settlement.Tag)
		}

		if settlement.Tag == "Won" {
			if err := o.claimPayout(operatorParty, payload.Player, settlement.Value); err != nil {
				return err
			}
		}
	}

	return nil
}

// claimPayout 单operator演示模式下代玩家认领赢得的Payout
// 多租户部署应改为通知玩家自行认领
func (o *Orchestrator) claimPayout(operatorParty, playerParty string, value json.RawMessage) error {
	var payoutCid string
	if err := json.Unmarshal(value, &payoutCid); err != nil {
		return fmt.Errorf("decode payout contract id: %w", err)
	}

	account, _, err := activeAccount(o.ledger, o.templates, operatorParty, playerParty)
	if err != nil {
		return err
	}

	if _, err := o.ledger.Exercise(playerParty, o.templates.Payout, payoutCid, "ClaimPayout", map[string]interface{}{
		"accountCid": account.ContractID,
	}); err != nil {
		return fmt.Errorf("claim payout for %s: %w", playerParty, err)
	}

	log.Printf("[Orchestrator] 💰 Payout claimed for player=%s", playerParty)
	return nil
}

// emit 广播事件并镜像到所有已挂载的recorder
func (o *Orchestrator) emit(raceID string, event *models.Event) {
	o.broadcaster.Broadcast(event)
	for _, r := range o.recorders {
		r.Record(raceID, event)
	}
}
