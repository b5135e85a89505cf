package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const appTimeFormat = "2006-01-02T15:04:05Z0700"

func Read(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return []byte{}, errors.Wrapf(err, "failed to read file %s", filename)
	}
	return data, err
}

func Unmarshal(content []byte) (*Config, error) {
	cfg := &Config{}
	err := yaml.Unmarshal(content, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshall config file: %s", content)
	}
	return cfg, nil
}

// Load reads the YAML config file. A local .env file, if present, is loaded
// into the environment first so the *_env_var secrets resolve in development.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()
	content, err := Read(filename)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func ConfigureLogger(cfg *LoggingConfig, opts ...zap.Option) (*zap.SugaredLogger, error) {
	var zapConfig zap.Config
	if cfg.IsProduction {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Sampling = nil // disable logs sampling, we don't have that much
		zapConfig.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format(appTimeFormat))
			// 2019-08-13T04:39:11Z
		}
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapConfig.Level.SetLevel(zapLevel)
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewDevelopmentLogger is used in tests.
func NewDevelopmentLogger() *zap.SugaredLogger {
	return zap.Must(zap.NewDevelopment()).Sugar()
}
