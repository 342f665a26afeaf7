package config

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var once sync.Once

var envBindings = map[string]string{
	"telegram_bot_token": "TELEGRAM_BOT_TOKEN",
	"debug":              "DEBUG",
	"log_format":         "LOG_FORMAT",
	"lang":               "LANG",
	"metrics_port":       "METRICS_PORT",
	"db_driver":          "DB_DRIVER",
	"db_dsn":             "DB_DSN",
	"price_source":       "PRICE_SOURCE",
	"api_pro_key":        "API_PRO_KEY",
	"price_cache_ttl":    "PRICE_CACHE_TTL",
	"price_cache_size":   "PRICE_CACHE_SIZE",
	"alarm_interval":     "ALARM_INTERVAL",
	"alarm_first_delay":  "ALARM_FIRST_DELAY",
	"fetch_timeout":      "FETCH_TIMEOUT",
	"notify_timeout":     "NOTIFY_TIMEOUT",
	"store_timeout":      "STORE_TIMEOUT",
	"tick_workers":       "TICK_WORKERS",
	"unset_all_scope":    "UNSET_ALL_SCOPE",
	"restore_on_start":   "RESTORE_ON_START",
	"updates_timeout":    "UPDATES_TIMEOUT",
	"github_repo_link":   "GITHUB_REPO_LINK",
}

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		for key, env := range envBindings {
			viper.BindEnv(key, env)
		}

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("debug", false)
		viper.SetDefault("log_format", "text")
		viper.SetDefault("lang", "en")
		viper.SetDefault("db_driver", "sqlite")
		viper.SetDefault("db_dsn", "/app/data/bot.db")
		viper.SetDefault("price_source", "yahoo")
		viper.SetDefault("price_cache_ttl", 5*time.Second)
		viper.SetDefault("price_cache_size", 1024)
		viper.SetDefault("alarm_interval", 10*time.Second)
		viper.SetDefault("alarm_first_delay", time.Second)
		viper.SetDefault("fetch_timeout", 5*time.Second)
		viper.SetDefault("notify_timeout", 5*time.Second)
		viper.SetDefault("store_timeout", 5*time.Second)
		viper.SetDefault("tick_workers", 16)
		viper.SetDefault("unset_all_scope", "owner")
		viper.SetDefault("restore_on_start", true)
		viper.SetDefault("updates_timeout", 60)
		viper.SetDefault("github_repo_link", "https://github.com/ticker-alarm-bot/ticker-alarm-bot")
	})
}

// SetConfigFile merges a yaml, toml or json file over the defaults.
// Environment variables still take precedence.
func SetConfigFile(path string) error {
	InitConfig()
	if path == "" {
		return nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "could not read config file %s", path)
	}
	return nil
}

// Set overrides a single key; used by command line flags.
func Set(key string, value interface{}) {
	InitConfig()
	viper.Set(key, value)
}

// Reset drops every loaded value so the next accessor starts from defaults.
func Reset() {
	viper.Reset()
	once = sync.Once{}
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

func GetDuration(key string) time.Duration {
	InitConfig()
	return viper.GetDuration(key)
}
