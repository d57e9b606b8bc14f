package server

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port      string
	RedisAddr string
	JWTSecret string

	StockfishPath   string
	OpenAIKey       string
	GeminiKey       string
	ProviderTimeout time.Duration
	AnalysisDepth   int
}

func NewConfig() Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs/server")
	viper.AddConfigPath(".")

	viper.SetDefault("Server.Port", "8080")
	viper.SetDefault("Server.RedisAddr", "localhost:6379")
	viper.SetDefault("Server.ProviderTimeout", "15s")
	viper.SetDefault("Server.AnalysisDepth", 15)
	viper.SetDefault("STOCKFISH_PATH", "stockfish")

	// Config file is optional; environment variables take over when absent.
	_ = viper.ReadInConfig()
	viper.AutomaticEnv()

	return Config{
		Port:            viper.GetString("Server.Port"),
		RedisAddr:       viper.GetString("Server.RedisAddr"),
		JWTSecret:       viper.GetString("JWT_SECRET"),
		StockfishPath:   viper.GetString("STOCKFISH_PATH"),
		OpenAIKey:       viper.GetString("OPENAI_API_KEY"),
		GeminiKey:       viper.GetString("GEMINI_API_KEY"),
		ProviderTimeout: viper.GetDuration("Server.ProviderTimeout"),
		AnalysisDepth:   viper.GetInt("Server.AnalysisDepth"),
	}
}
