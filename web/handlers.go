package web

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"derby-service/models"
)

// handleBootstrap 幂等开局: operator合约 + 玩家账户 + 余额补足
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	result, err := s.provisioner.Bootstrap()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCreateRace 创建比赛并启动编排loop
func (s *Server) handleCreateRace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RaceID         string `json:"raceId"`
		BettingSeconds int    `json:"bettingSeconds"`
	}
	// body可省略，全部使用默认值
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	raceID, commitment, err := s.orchestrator.CreateRace(body.RaceID, body.BettingSeconds)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"raceId":     raceID,
		"commitment": commitment,
	})
}

// handlePlaceBet 玩家下注
func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	raceID := vars["race_id"]

	var body struct {
		Player string  `json:"player"`
		Horse  string  `json:"horse"`
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if body.Player == "" {
		writeError(w, &models.ValidationError{Field: "player", Reason: "required"})
		return
	}

	accepted, err := s.bets.PlaceBet(raceID, body.Player, body.Horse, body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": true,
		"result":   accepted,
	})
}

// handleGetState 当前跟踪的所有比赛快照
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"races": s.state.Races(),
	})
}

// handleGetAccount 查询玩家账户
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	player := vars["player"]

	balance, party, err := s.bets.GetBalance(player)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"player":  player,
		"party":   party,
		"balance": models.FormatAmount(balance),
	})
}

// handleRaceEvents 持久化的事件历史(需配置DATABASE_URL)
func (s *Server) handleRaceEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventStore == nil {
		http.Error(w, "event history disabled (no DATABASE_URL)", http.StatusNotFound)
		return
	}

	vars := mux.Vars(r)
	raceID := vars["race_id"]

	events, err := s.eventStore.GetRaceEvents(raceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"race_id": raceID,
		"events":  events,
	})
}

// writeError 错误分类映射到HTTP响应
// 下注相关的拒绝属于调用方错误，带原因返回400；其余为服务端一致性/账本错误
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *models.ValidationError
		selectionErr  *models.InvalidSelectionError
		bettingErr    *models.BettingClosedError
		balanceErr    *models.InsufficientBalanceError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &selectionErr),
		errors.As(err, &bettingErr), errors.As(err, &balanceErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"accepted": false,
			"reason":   err.Error(),
		})
	default:
		// IdentityUnresolvable、AmbiguousState、TransientConflict、SeedMissing及账本错误
		log.Printf("[API] ❌ %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}
}
