package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"derby-service/config"
	"derby-service/database"
	"derby-service/ledger"
	"derby-service/services"
	"derby-service/web"
)

func main() {
	log.Println("Starting Derby Ledger Race Service...")

	// 加载配置
	cfg := config.Load()

	if cfg.PackageID == "" {
		log.Fatal("Missing DAML_PACKAGE_ID. Set it in the environment.")
	}

	// 连接事件历史数据库(可选)
	var db *sql.DB
	var eventStore *services.EventStore
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		eventStore = services.NewEventStore(db)
		log.Println("Database connected and migrated")
	} else {
		log.Println("Event history disabled (no DATABASE_URL)")
	}

	// 创建账本客户端与模板id
	ledgerClient := ledger.NewClient(cfg.JSONAPIURL, cfg.AccessToken)
	templates := ledger.MakeTemplateIDs(cfg.PackageID)

	// 进程级投影
	state := services.NewAppState()

	// 创建WebSocket Hub
	wsHub := web.NewHub()
	go wsHub.Run()

	// 创建飞书通知器
	larkNotifier := services.NewLarkNotifier(cfg.LarkWebhook)
	if err := larkNotifier.NotifyServiceStart(cfg.OperatorPartyHint, cfg.DemoPlayerHints); err != nil {
		log.Printf("Failed to send startup notification: %v", err)
	}

	// 创建AMQP事件发布器(可选)
	publisher := services.NewEventPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	// 组装服务
	resolver := services.NewResolver(ledgerClient, state)
	fairness := services.NewFairness(state)
	provisioner := services.NewProvisioner(cfg, ledgerClient, templates, resolver)
	orchestrator := services.NewOrchestrator(cfg, ledgerClient, templates, state, fairness, resolver, wsHub)
	orchestrator.SetNotifier(larkNotifier)
	orchestrator.AddRecorder(publisher)
	if eventStore != nil {
		orchestrator.AddRecorder(eventStore)
		orchestrator.SetSettlementRecorder(eventStore)
	}
	bets := services.NewBetService(cfg, ledgerClient, templates, state, resolver, wsHub)

	// 启动Web服务器
	server := web.NewServer(cfg, db, wsHub, state, provisioner, orchestrator, bets, resolver, eventStore)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Web server error: %v", err)
		}
	}()

	log.Printf("Web server started on port %s", cfg.Port)
	log.Println("Service is running. Press Ctrl+C to stop.")

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down service...")

	// 清理资源
	server.Stop()

	log.Println("Service stopped")
}
