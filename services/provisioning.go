package services

import (
	"encoding/json"
	"log"
	"time"

	"derby-service/config"
	"derby-service/ledger"
	"derby-service/models"
)

// Provisioner 幂等的开局流程: 确保Operator合约与玩家账户存在且余额不低于下限
type Provisioner struct {
	cfg       *config.Config
	ledger    Ledger
	templates ledger.TemplateIDs
	resolver  *Resolver
}

// BootstrapPlayer 单个玩家的开局结果
type BootstrapPlayer struct {
	Hint    string  `json:"hint"`
	Party   string  `json:"party"`
	Balance float64 `json:"balance"`
}

// BootstrapResult 开局流程的结果
type BootstrapResult struct {
	OperatorParty string            `json:"operatorParty"`
	OperatorCid   string            `json:"operatorCid"`
	Players       []BootstrapPlayer `json:"players"`
}

// NewProvisioner 创建provisioner
func NewProvisioner(cfg *config.Config, l Ledger, t ledger.TemplateIDs, resolver *Resolver) *Provisioner {
	return &Provisioner{cfg: cfg, ledger: l, templates: t, resolver: resolver}
}

// Bootstrap 可重复调用，只补不扣
func (p *Provisioner) Bootstrap() (*BootstrapResult, error) {
	operatorParty, err := p.resolver.Resolve(p.cfg.OperatorPartyHint)
	if err != nil {
		return nil, err
	}

	operatorCid, err := ensureOperatorContract(p.ledger, p.templates, operatorParty)
	if err != nil {
		return nil, err
	}

	result := &BootstrapResult{
		OperatorParty: operatorParty,
		OperatorCid:   operatorCid,
	}

	for _, hint := range p.cfg.DemoPlayerHints {
		playerParty, err := p.resolver.Resolve(hint)
		if err != nil {
			return nil, err
		}

		balance, err := p.ensureAccount(operatorParty, operatorCid, playerParty)
		if err != nil {
			return nil, err
		}

		result.Players = append(result.Players, BootstrapPlayer{
			Hint:    hint,
			Party:   playerParty,
			Balance: balance,
		})
	}

	log.Printf("[Provisioning] Bootstrap complete: operator=%s, players=%d", operatorParty, len(result.Players))
	return result, nil
}

// ensureAccount 确保玩家账户存在且余额达到下限，返回最终余额
func (p *Provisioner) ensureAccount(operatorParty, operatorCid, playerParty string) (float64, error) {
	contracts, err := p.ledger.ListActiveByTemplate(operatorParty, p.templates.PlayerAccount)
	if err != nil {
		return 0, err
	}

	exists := false
	for _, c := range contracts {
		var payload models.PlayerAccountPayload
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			continue
		}
		if payload.Operator == operatorParty && payload.Player == playerParty {
			exists = true
			break
		}
	}

	if !exists {
		log.Printf("[Provisioning] Creating account for player=%s", playerParty)
		if _, err := p.ledger.Exercise(operatorParty, p.templates.Operator, operatorCid, "CreatePlayerAccount", map[string]interface{}{
			"player": playerParty,
		}); err != nil {
			return 0, err
		}
	}

	account, payload, err := activeAccount(p.ledger, p.templates, operatorParty, playerParty)
	if err != nil {
		return 0, err
	}

	balance := float64(payload.Balance)
	if balance < p.cfg.MinPlayerBalance {
		topUp := p.cfg.MinPlayerBalance - balance
		log.Printf("[Provisioning] Topping up player=%s by %s", playerParty, models.FormatAmount(topUp))
		if _, err := p.ledger.Exercise(playerParty, p.templates.PlayerAccount, account.ContractID, "Deposit", map[string]interface{}{
			"amount": models.FormatAmount(topUp),
		}); err != nil {
			return 0, err
		}
		balance = p.cfg.MinPlayerBalance
	}

	return balance, nil
}

// ledgerNow 账本choice参数使用的当前时间
func ledgerNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
