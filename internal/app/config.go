package app

import (
	"strings"

	"github.com/aistory/aistory-web/internal/platform/envutil"
)

type Config struct {
	HTTPAddr      string
	EngineURL     string
	RedisAddr     string
	RedisChannel  string
	JWTSecretKey  string
	AllowAnonRead bool
	AllowOrigins  []string
}

func LoadConfig() Config {
	cfg := Config{
		HTTPAddr:      envutil.Str("HTTP_ADDR", ":8080"),
		EngineURL:     envutil.Str("ENGINE_URL", "http://localhost:8000"),
		RedisAddr:     envutil.Str("REDIS_ADDR", ""),
		RedisChannel:  envutil.Str("REDIS_CHANNEL", "jobs"),
		JWTSecretKey:  envutil.Str("JWT_SECRET_KEY", "defaultsecret"),
		AllowAnonRead: envutil.Bool("ALLOW_ANON_READ", true),
	}
	if origins := envutil.Str("CORS_ALLOW_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
	}
	return cfg
}
