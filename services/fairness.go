package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"derby-service/models"
)

// Fairness commit-reveal公平性模块
// 创建比赛时发布种子的sha256承诺，封盘后公开种子本身，
// 玩家可据此验证赛果在投注截止前已被固定
type Fairness struct {
	state *AppState
}

// NewFairness 创建fairness模块
func NewFairness(state *AppState) *Fairness {
	return &Fairness{state: state}
}

// Commit 为比赛生成种子并返回其承诺
// 种子保存在投影中直到揭示，承诺可以立即发布
func (f *Fairness) Commit(raceID string) (seed, commitment string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate seed: %w", err)
	}
	seed = hex.EncodeToString(buf)
	f.state.PutSeed(raceID, seed)
	return seed, CommitmentOf(seed), nil
}

// Reveal 取出并移除持有的种子
// 进程重启或重复揭示时种子不存在，比赛无法安全继续
func (f *Fairness) Reveal(raceID string) (string, error) {
	seed, ok := f.state.TakeSeed(raceID)
	if !ok {
		return "", &models.SeedMissingError{RaceID: raceID}
	}
	return seed, nil
}

// CommitmentOf 计算种子的sha256十六进制摘要
func CommitmentOf(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
