package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// 账本配置
	JSONAPIURL  string
	AccessToken string
	PackageID   string

	// 参与方配置
	OperatorPartyHint string
	DemoPlayerHints   []string

	// 业务配置
	MinPlayerBalance     float64 // 开户余额下限，bootstrap时补足
	MaxLiabilityPerHorse float64 // 接受投注时单匹马的最大赔付敞口
	TickInterval         time.Duration

	// 事件历史数据库(可选)
	DatabaseURL string

	// AMQP事件镜像(可选)
	AMQPURL      string
	AMQPExchange string

	// 告警webhook(可选)
	LarkWebhook string

	// 服务器配置
	Port string

	// 其他配置
	Environment string
}

func Load() *Config {
	return &Config{
		// 账本配置
		JSONAPIURL:  getEnv("DAML_JSON_API_URL", "http://localhost:7575"),
		AccessToken: getEnv("DAML_ACCESS_TOKEN", ""),
		PackageID:   getEnv("DAML_PACKAGE_ID", ""),

		// 参与方配置
		OperatorPartyHint: getEnv("OPERATOR_PARTY_HINT", "Operator"),
		DemoPlayerHints:   getPlayerHints(),

		// 业务配置
		MinPlayerBalance:     getEnvFloat("MIN_PLAYER_BALANCE", 100),
		MaxLiabilityPerHorse: getEnvFloat("MAX_LIABILITY_PER_HORSE", 1000),
		TickInterval:         time.Duration(getEnvInt("TICK_INTERVAL_MS", 300)) * time.Millisecond,

		// 事件历史数据库
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// AMQP事件镜像
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "derby.events"),

		// 告警webhook
		LarkWebhook: getEnv("LARK_WEBHOOK", ""),

		// 服务器配置
		Port: getEnv("PORT", "4001"),

		// 其他配置
		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil || result <= 0 {
		return defaultValue
	}
	return result
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil || result <= 0 {
		return defaultValue
	}
	return result
}

func getPlayerHints() []string {
	raw := getEnv("DEMO_PLAYERS", "Alice")
	var hints []string
	for _, h := range strings.Split(raw, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			hints = append(hints, h)
		}
	}
	return hints
}
