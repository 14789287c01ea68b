package main

import (
	"database/sql"
	"flag"
	"io/fs"
	"os"

	_ "github.com/ClickHouse/clickhouse-go/v2" // ClickHouse driver
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/navid-fn/optionsradar/configs"
	"github.com/navid-fn/optionsradar/internal/logger"
	"github.com/navid-fn/optionsradar/migrations"
)

func main() {
	cfg := configs.AppLoad()
	log := logger.New(cfg.LogLevel)

	command := flag.String("command", "up", "goose command: up, down or status")
	withHistory := flag.Bool("clickhouse", cfg.History.Enabled, "also migrate the ClickHouse sync history")
	flag.Parse()

	db, err := gorm.Open(postgres.Open(cfg.Storage.PostgresDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get sql.DB: %v", err)
	}
	defer sqlDB.Close()

	if err := run(log, sqlDB, "postgres", migrations.Postgres, "postgres", *command); err != nil {
		log.Fatalf("Postgres migration failed: %v", err)
	}

	if !*withHistory {
		log.Info("Migrations completed successfully")
		return
	}

	// Connect using native ClickHouse driver
	chDB, err := sql.Open("clickhouse", cfg.History.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer chDB.Close()

	if err := chDB.Ping(); err != nil {
		log.Errorf("Failed to ping ClickHouse: %v", err)
		os.Exit(1)
	}

	if err := run(log, chDB, "clickhouse", migrations.ClickHouse, "clickhouse", *command); err != nil {
		log.Fatalf("ClickHouse migration failed: %v", err)
	}
	log.Info("Migrations completed successfully")
}

func run(log *logrus.Logger, db *sql.DB, dialect string, fsys fs.FS, dir, command string) error {
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	log.Infof("Running %s migrations (%s)...", dialect, command)
	switch command {
	case "down":
		return goose.Down(db, dir)
	case "status":
		return goose.Status(db, dir)
	default:
		return goose.Up(db, dir)
	}
}
