package worker

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RedisAddr  string
	GatewayURL string

	StockfishPath   string
	OpenAIKey       string
	GeminiKey       string
	ProviderTimeout time.Duration
	Concurrency     int
	JobsPerSecond   float64
}

func NewConfig() Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs/worker")
	viper.AddConfigPath(".")

	viper.SetDefault("Worker.RedisAddr", "localhost:6379")
	viper.SetDefault("Worker.GatewayUrl", "http://localhost:8080")
	viper.SetDefault("Worker.ProviderTimeout", "15s")
	viper.SetDefault("Worker.Concurrency", 5)
	viper.SetDefault("Worker.JobsPerSecond", 10)
	viper.SetDefault("STOCKFISH_PATH", "stockfish")

	// Config file is optional; environment variables take over when absent.
	_ = viper.ReadInConfig()
	viper.AutomaticEnv()

	return Config{
		RedisAddr:       viper.GetString("Worker.RedisAddr"),
		GatewayURL:      viper.GetString("Worker.GatewayUrl"),
		StockfishPath:   viper.GetString("STOCKFISH_PATH"),
		OpenAIKey:       viper.GetString("OPENAI_API_KEY"),
		GeminiKey:       viper.GetString("GEMINI_API_KEY"),
		ProviderTimeout: viper.GetDuration("Worker.ProviderTimeout"),
		Concurrency:     viper.GetInt("Worker.Concurrency"),
		JobsPerSecond:   viper.GetFloat64("Worker.JobsPerSecond"),
	}
}
