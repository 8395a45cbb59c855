package hctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/daybook-app/daybook/client/data"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// Needed to use sqlite without CGO
	"github.com/glebarez/sqlite"
)

var (
	daybookLogger *logrus.Logger
	getLoggerOnce sync.Once
)

func GetLogger() *logrus.Logger {
	getLoggerOnce.Do(func() {
		homedir, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Errorf("failed to get user's home directory: %v", err))
		}
		err = MakeDaybookDir()
		if err != nil {
			panic(err)
		}

		lumberjackLogger := &lumberjack.Logger{
			Filename:   path.Join(homedir, data.GetDaybookPath(), "daybook.log"),
			MaxSize:    1, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
		}

		logFormatter := new(logrus.TextFormatter)
		logFormatter.TimestampFormat = time.RFC3339
		logFormatter.FullTimestamp = true

		daybookLogger = logrus.New()
		daybookLogger.SetFormatter(logFormatter)
		daybookLogger.SetLevel(logrus.InfoLevel)
		daybookLogger.SetOutput(lumberjackLogger)
	})
	return daybookLogger
}

func MakeDaybookDir() error {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user's home directory: %v", err)
	}
	err = os.MkdirAll(path.Join(homedir, data.GetDaybookPath()), 0o744)
	if err != nil {
		return fmt.Errorf("failed to create ~/.daybook dir: %v", err)
	}
	err = os.MkdirAll(path.Join(homedir, data.GetDaybookPath(), data.IMAGES_DIR), 0o744)
	if err != nil {
		return fmt.Errorf("failed to create ~/.daybook/images dir: %v", err)
	}
	return nil
}

// GetImagesDir returns the directory holding locally cached attachments.
func GetImagesDir() (string, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user's home directory: %v", err)
	}
	return path.Join(homedir, data.GetDaybookPath(), data.IMAGES_DIR), nil
}

func OpenLocalSqliteDb() (*gorm.DB, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user's home directory: %v", err)
	}
	err = MakeDaybookDir()
	if err != nil {
		return nil, err
	}
	newLogger := logger.New(
		GetLogger().WithField("fromSQL", true),
		logger.Config{
			SlowThreshold:             100 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: false,
			Colorful:                  false,
		},
	)
	dbFilePath := path.Join(homedir, data.GetDaybookPath(), data.DB_PATH)
	dsn := fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL", dbFilePath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true, Logger: newLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the DB: %v", err)
	}
	tx, err := db.DB()
	if err != nil {
		return nil, err
	}
	err = tx.Ping()
	if err != nil {
		return nil, err
	}
	db.AutoMigrate(&data.StoreEntry{})
	db.Exec("PRAGMA journal_mode = WAL")
	return db, nil
}

type daybookContextKey string

func MakeContext() context.Context {
	ctx := context.Background()
	config, err := GetConfig()
	if err != nil {
		panic(fmt.Errorf("failed to retrieve config: %v", err))
	}
	ctx = context.WithValue(ctx, daybookContextKey("config"), config)
	db, err := OpenLocalSqliteDb()
	if err != nil {
		panic(fmt.Errorf("failed to open local DB: %v", err))
	}
	ctx = context.WithValue(ctx, daybookContextKey("db"), db)
	homedir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("failed to get homedir: %v", err))
	}
	ctx = context.WithValue(ctx, daybookContextKey("homedir"), homedir)
	return ctx
}

func GetConf(ctx context.Context) ClientConfig {
	v := ctx.Value(daybookContextKey("config"))
	if v != nil {
		return v.(ClientConfig)
	}
	panic(fmt.Errorf("failed to find config in ctx"))
}

func GetDb(ctx context.Context) *gorm.DB {
	v := ctx.Value(daybookContextKey("db"))
	if v != nil {
		return v.(*gorm.DB)
	}
	panic(fmt.Errorf("failed to find db in ctx"))
}

func GetHome(ctx context.Context) string {
	v := ctx.Value(daybookContextKey("homedir"))
	if v != nil {
		return v.(string)
	}
	panic(fmt.Errorf("failed to find homedir in ctx"))
}

type ClientConfig struct {
	// The bearer credential produced by the auth flow. Empty means no
	// session, which is a normal state: sync is silently skipped.
	SessionToken string `json:"session_token"`
	// The user secret used to derive the opaque per-user identifier
	UserSecret string `json:"user_secret"`
	// A device ID used to distinguish which device a change came from
	DeviceId string `json:"device_id"`
	// The premium entitlement as last observed from the subscription
	// service. Owned by that collaborator; read-only here.
	IsPremium bool `json:"is_premium"`
	// Access token for the backup object store (distinct from SessionToken)
	DriveAccessToken string `json:"drive_access_token"`
	// How often the background sync timer fires, in seconds. 0 means the
	// default.
	SyncIntervalSeconds int `json:"sync_interval_seconds"`
	// Whether this is an offline instance of daybook with no syncing
	IsOffline bool `json:"is_offline"`
}

const DefaultSyncInterval = 5 * time.Second

func (c ClientConfig) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return DefaultSyncInterval
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func GetConfigContents() ([]byte, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve homedir: %v", err)
	}
	dat, err := os.ReadFile(path.Join(homedir, data.GetDaybookPath(), data.CONFIG_PATH))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	return dat, nil
}

func GetConfig() (ClientConfig, error) {
	dat, err := GetConfigContents()
	if err != nil {
		return ClientConfig{}, err
	}
	var config ClientConfig
	err = json.Unmarshal(dat, &config)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("failed to parse config file: %v", err)
	}
	return config, nil
}

func SetConfig(config ClientConfig) error {
	serializedConfig, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %v", err)
	}
	homedir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to retrieve homedir: %v", err)
	}
	err = MakeDaybookDir()
	if err != nil {
		return err
	}
	configPath := path.Join(homedir, data.GetDaybookPath(), data.CONFIG_PATH)
	stagedConfigPath := configPath + ".tmp"
	err = os.WriteFile(stagedConfigPath, serializedConfig, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write config: %v", err)
	}
	err = os.Rename(stagedConfigPath, configPath)
	if err != nil {
		return fmt.Errorf("failed to replace config file with the updated version: %v", err)
	}
	return nil
}

func InitConfig() error {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	_, err = os.Stat(path.Join(homedir, data.GetDaybookPath(), data.CONFIG_PATH))
	if errors.Is(err, os.ErrNotExist) {
		return SetConfig(ClientConfig{
			UserSecret: uuid.Must(uuid.NewRandom()).String(),
			DeviceId:   uuid.Must(uuid.NewRandom()).String(),
		})
	}
	return err
}
