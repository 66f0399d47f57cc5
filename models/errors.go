package models

import "fmt"

// IdentityUnresolvableError 无法为hint分配或找到party
type IdentityUnresolvableError struct {
	Hint string
}

func (e *IdentityUnresolvableError) Error() string {
	return fmt.Sprintf("could not allocate or find party for hint=%s", e.Hint)
}

// AmbiguousStateError 期望恰好1个活跃合约但找到0个或多个
type AmbiguousStateError struct {
	Template string
	Key      string
	Count    int
}

func (e *AmbiguousStateError) Error() string {
	return fmt.Sprintf("expected exactly 1 active %s for %s, got %d", e.Template, e.Key, e.Count)
}

// TransientConflictError 重试耗尽后的合约锁冲突
type TransientConflictError struct {
	Path     string
	Attempts int
	Body     string
}

func (e *TransientConflictError) Error() string {
	return fmt.Sprintf("ledger contract lock conflict on %s not resolved after %d attempts: %s", e.Path, e.Attempts, e.Body)
}

// ValidationError 请求参数校验失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SeedMissingError 本地未持有该比赛的种子，公平性状态已丢失
type SeedMissingError struct {
	RaceID string
}

func (e *SeedMissingError) Error() string {
	return fmt.Sprintf("missing seed for raceId=%s", e.RaceID)
}

// InsufficientBalanceError 余额不足以下注
type InsufficientBalanceError struct {
	Player  string
	Balance float64
	Amount  float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for player=%s: have %.1f, need %.1f", e.Player, e.Balance, e.Amount)
}

// BettingClosedError 比赛已不在可下注阶段
type BettingClosedError struct {
	RaceID string
	State  string
}

func (e *BettingClosedError) Error() string {
	return fmt.Sprintf("betting closed for raceId=%s (state=%s)", e.RaceID, e.State)
}

// InvalidSelectionError 无效的马匹选择
type InvalidSelectionError struct {
	Horse string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid horse selection: %s", e.Horse)
}
