package config

import (
	"github.com/BurntSushi/toml"
)

// Config структура конфигурации.
type Config struct {
	Logger   LogConf      // Logger - конфигурация регистратора.
	Receiver ReceiverConf // Receiver - приём sACN.
	Sender   SenderConf   // Sender - передача команд MQTT в sACN.
	MQTT     MQTTConf     // MQTT - конфигурация MQTT клиента.
	ArtNet   ArtNetConf   // ArtNet - пересылка объединённых данных в Art-Net.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level"` // Level - уровень логирования.
	Colors bool   `toml:"colors"`    // Colors - цветной вывод.
}

// ReceiverConf describes the sACN receiver.
type ReceiverConf struct {
	Interface       string   `toml:"interface"`         // Interface - network interface name used for multicast joins.
	Address         string   `toml:"address"`           // Address - bind address.
	Port            int      `toml:"port"`              // Port - UDP port.
	Universes       []uint16 `toml:"universes"`         // Universes - universes joined on start.
	DMXOnly         bool     `toml:"dmx-only"`          // DMXOnly - drop packets with a non-zero start code.
	SourceTimeoutMs int      `toml:"source-timeout-ms"` // SourceTimeoutMs - silent sources expire after this.
	SweepIntervalMs int      `toml:"sweep-interval-ms"` // SweepIntervalMs - source expiry check interval.
	Buffer          int      `toml:"buffer"`            // Buffer - output stream capacity.
}

// SenderConf describes the sACN senders created for MQTT commands.
type SenderConf struct {
	Enabled            bool     `toml:"enabled"`
	Interface          string   `toml:"interface"`        // Interface - IPv4 address of the outgoing interface.
	Port               int      `toml:"port"`             // Port - destination port.
	Universes          []uint16 `toml:"universes"`        // Universes - universes accepted from MQTT.
	MinRefreshRate     float64  `toml:"min-refresh-rate"` // MinRefreshRate - resend rate in Hz, 0 disables.
	CID                string   `toml:"cid"`              // CID - source identifier, random if empty.
	SourceLabel        string   `toml:"source-label"`
	Priority           int      `toml:"priority"`
	UnicastDestination string   `toml:"unicast-destination"`
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`
	ClientID string `toml:"clientID"` // ClientID - имя клиента.
	Schema   string `toml:"schema"`   // Schema - тип подключения.
	Host     string `toml:"server"`   // Host - адрес MQTT сервера.
	Port     string `toml:"port"`     // Port - порт MQTT сервера.
	User     string `toml:"user"`     // User - логин для подключения к MQTT серверу.
	Password string `toml:"password"` // Password - пароль для подключения к MQTT серверу.
	Qos      byte   `toml:"qos"`      // Qos - качество обслуживания.
	Prefix   string `toml:"topic-prefix"`
}

// ArtNetConf describes the Art-Net output.
type ArtNetConf struct {
	Enabled bool   `toml:"enabled"`
	Network string `toml:"network"` // Network - CIDR of the Art-Net network.
	MaxFPS  int    `toml:"max-fps"`
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used for keys missing in the file.
func Default() *Config {
	// default values
	return &Config{
		Logger: LogConf{Level: "info"},
		Receiver: ReceiverConf{
			Address:         "0.0.0.0",
			Port:            5568,
			Universes:       []uint16{1},
			DMXOnly:         true,
			SourceTimeoutMs: 5000,
			SweepIntervalMs: 5000,
			Buffer:          64,
		},
		Sender: SenderConf{
			Port:        5568,
			SourceLabel: "sacnbridge",
			Priority:    100,
		},
		MQTT: MQTTConf{
			ClientID: "sacnbridge",
			Schema:   "tcp",
			Host:     "localhost",
			Port:     "1883",
			Prefix:   "sacn",
		},
		ArtNet: ArtNetConf{
			Network: "192.168.6.0/24",
			MaxFPS:  40,
		},
	}
}
