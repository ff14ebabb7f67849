package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// WGServer описывает один wg-easy сервер из окружения
type WGServer struct {
	ServerID string
	Host     string
	APIPort  string
	Password string
}

type Config struct {
	DatabaseURL       string
	JWTSecret         string
	AdminPasswordHash string // bcrypt-хеш пароля администратора

	// wg-easy серверы
	WGServers         []WGServer
	WGServerPublicKey string // fallback, если /api/wireguard/server недоступен
	WGProxyAddr       string // опциональный SOCKS5 прокси до серверов

	// Балансировка
	PoolStateFile  string
	CapacityLimit  int
	CapacityPolicy bool // true — round-robin с проверкой живого количества клиентов

	// Планировщик
	ExpiryInterval  time.Duration
	WarningInterval time.Duration

	// Уведомления
	NotifyWebhookURL string

	// /metrics
	MetricsUser     string
	MetricsPassword string
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found")
	}

	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		WGServerPublicKey: os.Getenv("WG_SERVER_PUBLIC_KEY"),
		WGProxyAddr:       os.Getenv("WG_PROXY_ADDR"),
		PoolStateFile:     getEnvDefault("POOL_STATE_FILE", "servers_state.json"),
		CapacityLimit:     getEnvInt("WG_CAPACITY_LIMIT", 50),
		CapacityPolicy:    os.Getenv("WG_CAPACITY_POLICY") == "1",
		ExpiryInterval:    getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		WarningInterval:   getEnvDuration("WARNING_SWEEP_INTERVAL", time.Hour),
		NotifyWebhookURL:  os.Getenv("NOTIFY_WEBHOOK_URL"),
		MetricsUser:       getEnvDefault("METRICS_USER", "metrics"),
		MetricsPassword:   os.Getenv("METRICS_PASSWORD"),
	}

	cfg.WGServers = loadServers()

	return cfg
}

// loadServers читает wg-easy серверы из окружения.
// WG_SERVER_COUNT задаёт количество, первый сервер без суффикса,
// остальные с суффиксом _1, _2, ...
func loadServers() []WGServer {
	count := getEnvInt("WG_SERVER_COUNT", 1)

	var servers []WGServer
	for i := 0; i < count; i++ {
		suffix := ""
		if i > 0 {
			suffix = fmt.Sprintf("_%d", i)
		}

		host := os.Getenv("WG_HOST" + suffix)
		port := os.Getenv("WG_API_PORT" + suffix)
		password := os.Getenv("WG_API_PASSWORD" + suffix)

		if host == "" || port == "" || password == "" {
			log.Printf("Warning: missing configuration for wg server %d", i)
			continue
		}

		servers = append(servers, WGServer{
			ServerID: fmt.Sprintf("server%d", i),
			Host:     host,
			APIPort:  port,
			Password: password,
		})
	}

	return servers
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %s", key, v, def)
		return def
	}
	return d
}
