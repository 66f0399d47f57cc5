package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect 连接到数据库
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 设置连接池
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	return db, nil
}

// Migrate 运行数据库迁移
func Migrate(db *sql.DB) error {
	migrations := []string{
		// 比赛生命周期事件表
		`CREATE TABLE IF NOT EXISTS race_events (
			id BIGSERIAL PRIMARY KEY,
			race_id VARCHAR(100),
			event_type VARCHAR(50) NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_race_events_race_id ON race_events(race_id)`,
		`CREATE INDEX IF NOT EXISTS idx_race_events_event_type ON race_events(event_type)`,

		// 投注结算记录表
		`CREATE TABLE IF NOT EXISTS bet_settlements (
			id BIGSERIAL PRIMARY KEY,
			race_id VARCHAR(100) NOT NULL,
			bet_contract_id VARCHAR(255) NOT NULL,
			player VARCHAR(255) NOT NULL,
			horse VARCHAR(20) NOT NULL,
			amount NUMERIC(12,1) NOT NULL,
			outcome VARCHAR(10) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bet_settlements_race_id ON bet_settlements(race_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
