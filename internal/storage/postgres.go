package storage

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"roomchat/internal/models"
)

// Options 描述 PostgreSQL 連線參數
type Options struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     int
	SSLMode  string
	TimeZone string
}

// DSN 組合 gorm postgres 驅動使用的連線字串
func (o Options) DSN() string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	tz := o.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		o.Host, o.User, o.Password, o.Name, o.Port, sslMode, tz)
}

type PostgresDB struct {
	*gorm.DB
}

func NewPostgresDB(opts Options) (*PostgresDB, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(opts.DSN()), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate 自動遷移資料庫結構，未指定模型時遷移全部聊天與管理模型
func (db *PostgresDB) AutoMigrate(dst ...interface{}) error {
	if len(dst) == 0 {
		dst = models.All()
	}
	return db.DB.AutoMigrate(dst...)
}
