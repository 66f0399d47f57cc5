package services

import (
	"encoding/json"
	"sync"

	"github.com/streadway/amqp"

	"derby-service/logger"
	"derby-service/models"
)

// EventPublisher 把生命周期事件镜像到AMQP topic交换机
// routing key形如 race.<raceId>.<event>，下游系统可按比赛或事件类型订阅
type EventPublisher struct {
	url      string
	exchange string
	enabled  bool

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewEventPublisher 创建AMQP发布器，url为空时禁用
func NewEventPublisher(url, exchange string) *EventPublisher {
	enabled := url != ""
	if enabled {
		logger.Printf("[AMQP] Event publisher enabled (exchange: %s)", exchange)
	} else {
		logger.Println("[AMQP] Event publisher disabled (no AMQP_URL)")
	}

	return &EventPublisher{
		url:      url,
		exchange: exchange,
		enabled:  enabled,
	}
}

// connect 建立连接并声明交换机，持锁调用
func (p *EventPublisher) connect() error {
	if p.channel != nil {
		return nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := channel.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = channel
	logger.Println("[AMQP] ✅ Connected")
	return nil
}

// reset 丢弃失效的连接，下次发布时重连
func (p *EventPublisher) reset() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Record 发布单个事件(实现EventRecorder接口)
// 发布失败只记日志，编排流程不受影响
func (p *EventPublisher) Record(raceID string, event *models.Event) {
	if !p.enabled {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("[AMQP] Failed to marshal event: %v", err)
		return
	}

	routingKey := "race."
	if raceID != "" {
		routingKey += raceID + "."
	}
	routingKey += event.Type

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		logger.Errorf("[AMQP] ⚠️  Connect failed: %v", err)
		return
	}

	err = p.channel.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		logger.Errorf("[AMQP] ⚠️  Publish failed, will reconnect: %v", err)
		p.reset()
	}
}

// Close 关闭AMQP连接
func (p *EventPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
