package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBPath        string
	TileStorePath string
	Region        string

	GridPrecision int     // decimal digits of the grid cell key
	SplashRadius  float64 // meters of report influence

	TileGenInterval     time.Duration // how often the generation worker runs
	MaintenanceInterval time.Duration // how often retention purges run
	AuditRetention      time.Duration // how long raw reports are kept
}

// Load reads configuration from the environment, falling back to defaults
func Load() *Config {
	return &Config{
		Port:                envString("PORT", ":8080"),
		DBPath:              envString("DB_PATH", "./data/mudmap/mudmap.db"),
		TileStorePath:       envString("TILE_STORE_PATH", "./data/mudmap/tiles"),
		Region:              envString("REGION", "default"),
		GridPrecision:       envInt("GRID_PRECISION", 4),
		SplashRadius:        envFloat("SPLASH_RADIUS_METERS", 10),
		TileGenInterval:     envDuration("TILEGEN_INTERVAL", 30*time.Second),
		MaintenanceInterval: envDuration("MAINTENANCE_INTERVAL", time.Hour),
		AuditRetention:      envDuration("AUDIT_RETENTION", 30*24*time.Hour),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
