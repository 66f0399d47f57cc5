package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// 比赛阶段
const (
	PhaseCommitted     = "Committed"
	PhaseBettingClosed = "BettingClosed"
	PhaseRunning       = "Running"
	PhaseFinished      = "Finished"
	PhaseCancelled     = "Cancelled"
)

// Horses 可下注的马匹
var Horses = []string{"Red", "Blue", "Green", "Yellow", "Purple"}

// ValidHorse 检查马匹名称是否有效
func ValidHorse(horse string) bool {
	for _, h := range Horses {
		if h == horse {
			return true
		}
	}
	return false
}

// IsTerminalPhase 检查阶段是否为终态
func IsTerminalPhase(phase string) bool {
	return phase == PhaseFinished || phase == PhaseCancelled
}

// LedgerInt 账本数值字段，可能编码为JSON数字或字符串
type LedgerInt int

func (n *LedgerInt) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*n = LedgerInt(int(v))
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ledger int %q: %w", v, err)
		}
		*n = LedgerInt(parsed)
	case nil:
		*n = 0
	default:
		return fmt.Errorf("unexpected ledger int encoding: %T", raw)
	}
	return nil
}

// LedgerDecimal 账本金额字段，通常编码为字符串("50.0")
type LedgerDecimal float64

func (d *LedgerDecimal) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = LedgerDecimal(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse ledger decimal %q: %w", v, err)
		}
		*d = LedgerDecimal(parsed)
	default:
		return fmt.Errorf("unexpected ledger decimal encoding: %T", raw)
	}
	return nil
}

// FormatAmount 金额按账本要求格式化为一位小数字符串
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 1, 64)
}

// HorsePosition 单匹马的赛道位置(0-100)
type HorsePosition struct {
	Horse    string `json:"horse"`
	Position int    `json:"position"`
}

// UnmarshalJSON 兼容账本的两种tuple编码: [horse, pos] 或 {_1, _2}
func (p *HorsePosition) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) != 2 {
			return fmt.Errorf("unexpected positions tuple length: %d", len(arr))
		}
		if err := json.Unmarshal(arr[0], &p.Horse); err != nil {
			return err
		}
		var pos LedgerInt
		if err := json.Unmarshal(arr[1], &pos); err != nil {
			return err
		}
		p.Position = int(pos)
		return nil
	}

	var obj struct {
		Horse    string    `json:"_1"`
		Position LedgerInt `json:"_2"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unexpected positions encoding: %w", err)
	}
	if obj.Horse == "" {
		return fmt.Errorf("unexpected positions encoding: missing horse")
	}
	p.Horse = obj.Horse
	p.Position = int(obj.Position)
	return nil
}

// RacePayload Race合约的payload
type RacePayload struct {
	Operator        string          `json:"operator"`
	RaceID          string          `json:"raceId"`
	SeedCommitment  string          `json:"seedCommitment"`
	State           string          `json:"state"`
	BettingDeadline string          `json:"bettingDeadline"`
	Winner          *string         `json:"winner"`
	Positions       []HorsePosition `json:"positions"`
	TickNumber      LedgerInt       `json:"tickNumber"`
}

// PlayerAccountPayload PlayerAccount合约的payload
type PlayerAccountPayload struct {
	Operator string        `json:"operator"`
	Player   string        `json:"player"`
	Balance  LedgerDecimal `json:"balance"`
}

// BetPayload Bet合约的payload
type BetPayload struct {
	Operator string        `json:"operator"`
	Player   string        `json:"player"`
	RaceID   string        `json:"raceId"`
	Horse    string        `json:"horse"`
	Amount   LedgerDecimal `json:"amount"`
}

// SettlementResult Settle choice的返回值(Won携带Payout合约id)
type SettlementResult struct {
	Tag   string          `json:"tag"`
	Value json.RawMessage `json:"value"`
}

// RaceView 本地投影中的比赛视图，随每次刷新整体替换
type RaceView struct {
	RaceID          string          `json:"raceId"`
	ContractID      string          `json:"contractId"`
	State           string          `json:"state"`
	SeedCommitment  string          `json:"seedCommitment"`
	BettingDeadline string          `json:"bettingDeadline"`
	Winner          *string         `json:"winner,omitempty"`
	Positions       []HorsePosition `json:"positions"`
	TickNumber      int             `json:"tickNumber"`
}

// WS事件类型
const (
	EventHello        = "hello"
	EventState        = "state"
	EventRaceUpdate   = "race:update"
	EventRaceBetting  = "race:betting"
	EventRaceFinished = "race:finished"
	EventError        = "error"
)

// Event 推送给观察者的生命周期事件
type Event struct {
	Type       string      `json:"type"`
	Race       *RaceView   `json:"race,omitempty"`
	Races      []*RaceView `json:"races,omitempty"`
	RaceID     string      `json:"raceId,omitempty"`
	ClosesInMs int64       `json:"closesInMs,omitempty"`
	Message    string      `json:"message,omitempty"`
}
