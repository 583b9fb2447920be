package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// Init configures the global logger. JSON output everywhere except local
// development, where APP_ENV is unset or "development".
func Init() {
	env := os.Getenv("APP_ENV")

	var cfg zap.Config
	if env == "" || env == "development" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.DisableStacktrace = true

	built, err := cfg.Build(zap.WithCaller(false))
	if err != nil {
		built = zap.NewNop()
	}
	log = built
}

func ensure() *zap.Logger {
	if log == nil {
		Init()
	}
	return log
}

func toFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		out = append(out, zap.Any(key, value))
	}
	return out
}

func Info(event string, fields map[string]interface{}) {
	ensure().Info(event, toFields(fields)...)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	ensure().Info(event, append(toFields(fields), zap.String("user_id", userID))...)
}

func Warn(event string, fields map[string]interface{}) {
	ensure().Warn(event, toFields(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	ensure().Error(event, append(toFields(fields), zap.Error(err))...)
}
