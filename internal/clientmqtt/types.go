package clientmqtt

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConf struct {
	ClientID string // ClientID - уникальное имя клиента для брокеров.
	Schema   string // Schema - тип подключения.
	Host     string // Host - адрес MQTT сервера.
	Port     string // Port - порт MQTT сервера.
	User     string // User - логин для подключения к MQTT серверу.
	Password string // Password - пароль для подключения к MQTT серверу.
	Qos      byte   // Qos - качество обслуживания для публикаций и подписки.
	Prefix   string // Prefix - корень всех топиков.
}

// DataCh is a channel command received from the broker for one universe.
type DataCh struct {
	Universe uint16
	Data     Payload
}

// DMXCommand sets a channel (1-512) of a universe.
type DMXCommand struct {
	Channel uint16 `json:"channel"`
	Value   uint8  `json:"value"`
}

type Payload []DMXCommand

// mqttClient is the part of mqtt.Client in use.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

const (
	retryInterval = 5 * time.Second
	keepAlive     = 30 * time.Second
	quiesce       = 500 // ms
)
