package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"derby-service/ledger"
	"derby-service/models"
)

// fakeLedger 内存假账本，模拟Daml合约模型供服务层测试使用
// 赛道物理是确定性的: 每tick全体前进，winAfter个tick后f.winner到达终点
type fakeLedger struct {
	mu        sync.Mutex
	templates ledger.TemplateIDs

	contracts map[string]*fakeContract
	nextID    int

	winner   string
	winAfter int

	// commands 已发出的create/exercise命令数(读取不计入)
	commands int
	// settles 每个Bet合约收到的Settle次数
	settles map[string]int
	// revealed raceId→已揭示的种子
	revealed map[string]string

	allocFail    bool
	knownParties []string
}

type fakeContract struct {
	template string
	payload  map[string]interface{}
	active   bool
}

func newFakeLedger(t ledger.TemplateIDs) *fakeLedger {
	return &fakeLedger{
		templates: t,
		contracts: make(map[string]*fakeContract),
		winner:    "Red",
		winAfter:  3,
		settles:   make(map[string]int),
		revealed:  make(map[string]string),
	}
}

func (f *fakeLedger) newCid(prefix string) string {
	f.nextID++
	return fmt.Sprintf("cid-%s-%d", prefix, f.nextID)
}

func (f *fakeLedger) createContract(prefix, template string, payload map[string]interface{}) string {
	cid := f.newCid(prefix)
	f.contracts[cid] = &fakeContract{template: template, payload: payload, active: true}
	return cid
}

func (f *fakeLedger) AllocateParty(hint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.allocFail {
		return "", fmt.Errorf("party allocation rejected for hint=%s", hint)
	}
	party := hint + "::fake"
	f.knownParties = append(f.knownParties, party)
	return party, nil
}

func (f *fakeLedger) ListParties(filter string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.knownParties...), nil
}

func (f *fakeLedger) ListActiveByTemplate(party, templateID string) ([]ledger.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cids := make([]string, 0, len(f.contracts))
	for cid := range f.contracts {
		cids = append(cids, cid)
	}
	sort.Strings(cids)

	var result []ledger.Contract
	for _, cid := range cids {
		c := f.contracts[cid]
		if !c.active || c.template != templateID {
			continue
		}
		payload, err := json.Marshal(c.payload)
		if err != nil {
			return nil, err
		}
		result = append(result, ledger.Contract{ContractID: cid, TemplateID: templateID, Payload: payload})
	}
	return result, nil
}

func (f *fakeLedger) Create(party, templateID string, args map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands++
	payload := make(map[string]interface{}, len(args))
	for k, v := range args {
		payload[k] = v
	}
	return f.createContract("new", templateID, payload), nil
}

func (f *fakeLedger) Exercise(party, templateID, contractID, choice string, args map[string]interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands++

	contract, ok := f.contracts[contractID]
	if !ok || !contract.active {
		return nil, fmt.Errorf("contract %s not found or archived", contractID)
	}

	switch choice {
	case "CreateRace":
		positions := make([]interface{}, 0, len(models.Horses))
		for _, h := range models.Horses {
			positions = append(positions, []interface{}{h, "0"})
		}
		f.createContract("race", f.templates.Race, map[string]interface{}{
			"operator":        contract.payload["operator"],
			"raceId":          args["raceId"],
			"seedCommitment":  args["seedCommitment"],
			"state":           models.PhaseCommitted,
			"bettingDeadline": args["bettingDeadline"],
			"winner":          nil,
			"positions":       positions,
			"tickNumber":      "0",
		})
		return nil, nil

	case "CreatePlayerAccount":
		cid := f.createContract("acct", f.templates.PlayerAccount, map[string]interface{}{
			"operator": contract.payload["operator"],
			"player":   args["player"],
			"balance":  "0.0",
		})
		return json.Marshal(cid)

	case "Deposit":
		amount := parseFakeAmount(args["amount"])
		balance := parseFakeAmount(contract.payload["balance"])
		contract.active = false
		cid := f.createContract("acct", f.templates.PlayerAccount, map[string]interface{}{
			"operator": contract.payload["operator"],
			"player":   contract.payload["player"],
			"balance":  models.FormatAmount(balance + amount),
		})
		return json.Marshal(cid)

	case "PlaceBetRequest":
		cid := f.createContract("betreq", f.templates.BetRequest, map[string]interface{}{
			"operator": contract.payload["operator"],
			"player":   contract.payload["player"],
			"raceId":   args["raceId"],
			"horse":    args["horse"],
			"amount":   args["amount"],
		})
		return json.Marshal(cid)

	case "AcceptBet":
		accountCid, _ := args["accountCid"].(string)
		account, ok := f.contracts[accountCid]
		if !ok || !account.active {
			return nil, fmt.Errorf("account %s not found or archived", accountCid)
		}

		amount := parseFakeAmount(contract.payload["amount"])
		balance := parseFakeAmount(account.payload["balance"])
		if balance < amount {
			return nil, fmt.Errorf("insufficient balance: have %.1f, need %.1f", balance, amount)
		}

		account.active = false
		f.createContract("acct", f.templates.PlayerAccount, map[string]interface{}{
			"operator": account.payload["operator"],
			"player":   account.payload["player"],
			"balance":  models.FormatAmount(balance - amount),
		})

		contract.active = false
		cid := f.createContract("bet", f.templates.Bet, map[string]interface{}{
			"operator": contract.payload["operator"],
			"player":   contract.payload["player"],
			"raceId":   contract.payload["raceId"],
			"horse":    contract.payload["horse"],
			"amount":   contract.payload["amount"],
		})
		return json.Marshal(cid)

	case "CloseBetting":
		return f.advanceRace(contract, func(p map[string]interface{}) {
			p["state"] = models.PhaseBettingClosed
		})

	case "RevealSeed":
		seed, _ := args["revealedSeed"].(string)
		commitment, _ := contract.payload["seedCommitment"].(string)
		if CommitmentOf(seed) != commitment {
			return nil, fmt.Errorf("revealed seed does not match commitment")
		}
		raceID, _ := contract.payload["raceId"].(string)
		f.revealed[raceID] = seed
		return f.advanceRace(contract, func(p map[string]interface{}) {
			p["state"] = models.PhaseRunning
		})

	case "Tick":
		return f.advanceRace(contract, func(p map[string]interface{}) {
			tick, _ := strconv.Atoi(fmt.Sprintf("%v", p["tickNumber"]))
			tick++
			p["tickNumber"] = strconv.Itoa(tick)

			positions := make([]interface{}, 0, len(models.Horses))
			for _, h := range models.Horses {
				pos := tick * 100 / f.winAfter
				if h != f.winner {
					pos = pos * 2 / 3
				}
				if pos > 100 {
					pos = 100
				}
				positions = append(positions, []interface{}{h, strconv.Itoa(pos)})
			}
			p["positions"] = positions

			if tick >= f.winAfter {
				p["state"] = models.PhaseFinished
				p["winner"] = f.winner
			}
		})

	case "Settle":
		raceID, _ := contract.payload["raceId"].(string)
		race := f.findActiveRace(raceID)
		if race == nil {
			return nil, fmt.Errorf("no active race for raceId=%s", raceID)
		}
		if state, _ := race.payload["state"].(string); !models.IsTerminalPhase(state) {
			return nil, fmt.Errorf("race %s not settled yet (state=%s)", raceID, state)
		}

		f.settles[contractID]++
		contract.active = false

		horse, _ := contract.payload["horse"].(string)
		if winner, _ := race.payload["winner"].(string); horse == winner {
			amount := parseFakeAmount(contract.payload["amount"])
			payoutCid := f.createContract("payout", f.templates.Payout, map[string]interface{}{
				"operator": contract.payload["operator"],
				"player":   contract.payload["player"],
				"amount":   models.FormatAmount(amount * 2),
			})
			return json.Marshal(models.SettlementResult{Tag: "Won", Value: json.RawMessage(strconv.Quote(payoutCid))})
		}
		return json.Marshal(models.SettlementResult{Tag: "Lost"})

	case "ClaimPayout":
		accountCid, _ := args["accountCid"].(string)
		account, ok := f.contracts[accountCid]
		if !ok || !account.active {
			return nil, fmt.Errorf("account %s not found or archived", accountCid)
		}

		amount := parseFakeAmount(contract.payload["amount"])
		balance := parseFakeAmount(account.payload["balance"])

		account.active = false
		contract.active = false
		cid := f.createContract("acct", f.templates.PlayerAccount, map[string]interface{}{
			"operator": account.payload["operator"],
			"player":   account.payload["player"],
			"balance":  models.FormatAmount(balance + amount),
		})
		return json.Marshal(cid)
	}

	return nil, fmt.Errorf("unknown choice %s on %s", choice, templateID)
}

// advanceRace 归档当前Race合约并以新id重建(模拟choice产生新句柄)
func (f *fakeLedger) advanceRace(contract *fakeContract, mutate func(map[string]interface{})) (json.RawMessage, error) {
	payload := make(map[string]interface{}, len(contract.payload))
	for k, v := range contract.payload {
		payload[k] = v
	}
	mutate(payload)

	contract.active = false
	cid := f.createContract("race", f.templates.Race, payload)
	return json.Marshal(cid)
}

func (f *fakeLedger) findActiveRace(raceID string) *fakeContract {
	for _, c := range f.contracts {
		if c.active && c.template == f.templates.Race && c.payload["raceId"] == raceID {
			return c
		}
	}
	return nil
}

// accountBalance 测试断言用: 玩家当前活跃账户余额
func (f *fakeLedger) accountBalance(playerParty string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.contracts {
		if c.active && c.template == f.templates.PlayerAccount && c.payload["player"] == playerParty {
			return parseFakeAmount(c.payload["balance"])
		}
	}
	return -1
}

func (f *fakeLedger) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands
}

func parseFakeAmount(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		parsed, _ := strconv.ParseFloat(val, 64)
		return parsed
	}
	return 0
}

// recordingBroadcaster 记录广播事件供断言
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*models.Event
}

func (b *recordingBroadcaster) Broadcast(event interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := event.(*models.Event); ok {
		b.events = append(b.events, e)
	}
}

func (b *recordingBroadcaster) snapshot() []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*models.Event(nil), b.events...)
}

func (b *recordingBroadcaster) byType(eventType string) []*models.Event {
	var matched []*models.Event
	for _, e := range b.snapshot() {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}
