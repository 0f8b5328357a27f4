// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// PostgresConfig is the session database connection block.
type PostgresConfig struct {
	Host              string `mapstructure:"host" validate:"required"`
	Port              int    `mapstructure:"port" validate:"required"`
	User              string `mapstructure:"user" validate:"required"`
	Password          string `mapstructure:"password" validate:"required"`
	DbName            string `mapstructure:"db_name" validate:"required"`
	SSLMode           string `mapstructure:"ssl_mode" validate:"required"`
	MaxOpenConnection int    `mapstructure:"max_open_connection"`
	MaxIdleConnection int    `mapstructure:"max_idle_connection"`
}

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	PostgresConfig PostgresConfig `mapstructure:"postgres" validate:"required"`

	// TranscriptionHost is the websocket endpoint of the speech-recognition
	// service.
	TranscriptionHost     string  `mapstructure:"transcription_host" validate:"required"`
	TranscriptionLanguage string  `mapstructure:"transcription_language"`
	SilenceThreshold      float64 `mapstructure:"silence_threshold_seconds"`
	VadSensitivity        float64 `mapstructure:"vad_sensitivity"`

	// BlobHost receives multipart recording uploads; RecordHost receives the
	// assembled session record.
	BlobHost   string `mapstructure:"blob_host" validate:"required"`
	RecordHost string `mapstructure:"record_host" validate:"required"`

	// UploadBudgetSeconds bounds the total artifact upload time, retry
	// included.
	UploadBudgetSeconds int `mapstructure:"upload_budget_seconds"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "session-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9096)
	v.SetDefault("LOG_LEVEL", "debug")

	v.SetDefault("TRANSCRIPTION_HOST", "ws://localhost:9097/v1/listen")
	v.SetDefault("TRANSCRIPTION_LANGUAGE", "en-US")
	v.SetDefault("SILENCE_THRESHOLD_SECONDS", 2.0)
	v.SetDefault("VAD_SENSITIVITY", 0.5)
	v.SetDefault("BLOB_HOST", "http://localhost:9098/v1/recordings")
	v.SetDefault("RECORD_HOST", "http://localhost:9099/v1/session-records")
	v.SetDefault("UPLOAD_BUDGET_SECONDS", 60)

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "coachly_sessions")
	v.SetDefault("POSTGRES__USER", "coachly")
	v.SetDefault("POSTGRES__PASSWORD", "coachly")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDLE_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
