package config

import (
	"github.com/spf13/viper"
)

type ListenConfiguration struct {
	Host string `json:"host" mapstructure:"host" default:"0.0.0.0"`
	Port string `json:"port" mapstructure:"port" default:"8123"`
}

type MssqlConfiguration struct {
	Host                   string `json:"host" mapstructure:"host" default:"localhost"`
	Port                   int    `json:"port" mapstructure:"port" default:"1433"`
	User                   string `json:"user" mapstructure:"user" default:"sa"`
	Password               string `json:"password" mapstructure:"password" default:""`
	Database               string `json:"database" mapstructure:"database" default:""`
	TrustServerCertificate bool   `json:"trust_server_certificate" mapstructure:"trust_server_certificate" default:"false"`
}

type SessionsConfiguration struct {
	TimeoutS      int   `json:"timeout_s" mapstructure:"timeout_s" default:"300"`
	MaxConcurrent int64 `json:"max_concurrent" mapstructure:"max_concurrent" default:"8"`
	RetentionS    int   `json:"retention_s" mapstructure:"retention_s" default:"3600"`
}

type LoggingConfiguration struct {
	Level string `json:"level" mapstructure:"level" default:"info"`
	File  string `json:"file" mapstructure:"file" default:""`
}

type Configuration struct {
	Listen   ListenConfiguration   `json:"listen" mapstructure:"listen"`
	Mssql    MssqlConfiguration    `json:"mssql" mapstructure:"mssql"`
	Sessions SessionsConfiguration `json:"sessions" mapstructure:"sessions"`
	Logging  LoggingConfiguration  `json:"logging" mapstructure:"logging"`
}

var Config *Configuration

func InitConfig(file string) {
	viper.SetDefault("listen.host", "0.0.0.0")
	viper.SetDefault("listen.port", "8123")
	viper.SetDefault("mssql.host", "localhost")
	viper.SetDefault("mssql.port", 1433)
	viper.SetDefault("mssql.user", "sa")
	viper.SetDefault("sessions.timeout_s", 300)
	viper.SetDefault("sessions.max_concurrent", 8)
	viper.SetDefault("sessions.retention_s", 3600)
	viper.SetDefault("logging.level", "info")
	viper.AutomaticEnv()
	if file != "" {
		viper.SetConfigFile(file)
		err := viper.ReadInConfig()
		if err != nil {
			panic(err)
		}
	}
	Config = &Configuration{}
	err := viper.Unmarshal(Config)
	if err != nil {
		panic(err)
	}
}
