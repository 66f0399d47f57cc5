package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// LarkNotifier 飞书机器人通知器
type LarkNotifier struct {
	webhookURL string
	client     *http.Client
	enabled    bool
}

// NewLarkNotifier 创建飞书通知器，webhook为空时禁用
func NewLarkNotifier(webhookURL string) *LarkNotifier {
	enabled := webhookURL != ""
	if enabled {
		log.Printf("[LarkNotifier] Initialized with webhook")
	} else {
		log.Printf("[LarkNotifier] Disabled (no webhook URL)")
	}

	return &LarkNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		enabled:    enabled,
	}
}

// LarkMessage 飞书消息结构
type LarkMessage struct {
	MsgType string      `json:"msg_type"`
	Content interface{} `json:"content"`
}

// LarkTextContent 文本消息内容
type LarkTextContent struct {
	Text string `json:"text"`
}

// SendText 发送文本消息
func (n *LarkNotifier) SendText(text string) error {
	if !n.enabled {
		return nil
	}

	msg := LarkMessage{
		MsgType: "text",
		Content: LarkTextContent{Text: text},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification rejected: status %d", resp.StatusCode)
	}
	return nil
}

// NotifyServiceStart 发送服务启动通知
func (n *LarkNotifier) NotifyServiceStart(operatorHint string, players []string) error {
	return n.SendText(fmt.Sprintf("🐎 Derby service started (operator: %s, players: %v)", operatorHint, players))
}

// NotifyError 发送错误告警
func (n *LarkNotifier) NotifyError(component, message string) error {
	return n.SendText(fmt.Sprintf("❌ [%s] %s", component, message))
}

// NotifyRaceFinished 发送比赛结束通知
func (n *LarkNotifier) NotifyRaceFinished(raceID, winner string) error {
	return n.SendText(fmt.Sprintf("🏁 Race %s finished, winner: %s", raceID, winner))
}
