package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/merge"
	"sacnbridge/internal/universe"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient MQTTConf
	client    mqttClient
	commands  chan<- DataCh
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	if cfgClient.Prefix == "" {
		cfgClient.Prefix = "sacn"
	}
	return &ClientMQTT{
		log:       log.With(logger.Fields{"module": "mqtt"}),
		cfgClient: cfgClient,
	}
}

// Start connects to the broker. Commands received on the input topics are
// written to commands until ctx is done.
func (c *ClientMQTT) Start(ctx context.Context, commands chan<- DataCh) error {
	if c.log.GetLevel() == "debug" {
		paho := c.log.With(logger.Fields{"module": "paho"})
		mqtt.ERROR = paho
		mqtt.CRITICAL = paho
		mqtt.WARN = paho
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetWill(c.StatusTopic(), "offline", c.cfgClient.Qos, true).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetMaxReconnectInterval(retryInterval).
		SetKeepAlive(keepAlive)

	client := mqtt.NewClient(opts)
	c.bind(ctx, client, commands)

	token := client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to broker: %w", token.Error())
		}
	case <-ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Infof("Status: %v", client.IsConnected())
	return nil
}

func (c *ClientMQTT) bind(ctx context.Context, client mqttClient, commands chan<- DataCh) {
	c.ctx = ctx
	c.client = client
	c.commands = commands
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Publish(c.StatusTopic(), c.cfgClient.Qos, true, "offline").Wait()
		c.client.Disconnect(quiesce)
	}
	return nil
}

// OutTopic returns the topic merged changes of universe u are published on.
func (c *ClientMQTT) OutTopic(u uint16) string {
	return fmt.Sprintf("%s/out/%d", c.cfgClient.Prefix, u)
}

// InTopic returns the topic filter for commands.
func (c *ClientMQTT) InTopic() string {
	return c.cfgClient.Prefix + "/in/+"
}

// StatusTopic carries the retained online state of the bridge.
func (c *ClientMQTT) StatusTopic() string {
	return c.cfgClient.Prefix + "/status"
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")
	c.publish(c.StatusTopic(), true, "online")
	c.sub(c.InTopic())
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
	c.handleCommand(msg)
}

func (c *ClientMQTT) handleCommand(msg mqtt.Message) {
	u, err := c.topicUniverse(msg.Topic())
	if err != nil {
		c.log.Errorf("command dropped: %v", err)
		return
	}

	var data Payload
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		c.log.Errorf("message could not be parsed (%s): %v", msg.Payload(), err)
		return
	}
	for _, cmd := range data {
		if cmd.Channel < 1 || cmd.Channel > universe.Channels {
			c.log.Errorf("command dropped: channel %d out of range", cmd.Channel)
			return
		}
	}
	c.log.Debugf("message payload parsed. Result: %v", data)

	select {
	case c.commands <- DataCh{Universe: u, Data: data}:
	case <-c.ctx.Done():
	}
}

// topicUniverse extracts the universe of a command topic <prefix>/in/<u>.
func (c *ClientMQTT) topicUniverse(topic string) (uint16, error) {
	head := c.cfgClient.Prefix + "/in/"
	if !strings.HasPrefix(topic, head) {
		return 0, fmt.Errorf("unexpected topic %q", topic)
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(topic, head), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("topic %q: bad universe: %w", topic, err)
	}
	u := uint16(n)
	if err := universe.Valid(u); err != nil {
		return 0, err
	}
	return u, nil
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.Debugf("topic %s subscribed", topic)
	}()
}

// PublishChanges publishes merged channel changes, one message per universe.
func (c *ClientMQTT) PublishChanges(changes []merge.Change) {
	for _, u := range groupChanges(changes) {
		msg, err := json.Marshal(u.data)
		if err != nil {
			c.log.Errorf("public topic. msg: %v", err)
			continue
		}
		c.publish(c.OutTopic(u.universe), false, msg)
	}
}

func (c *ClientMQTT) publish(topic string, retained bool, msg interface{}) {
	token := c.client.Publish(topic, c.cfgClient.Qos, retained, msg)
	go func() {
		select {
		case <-c.ctx.Done():
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}

type universeChanges struct {
	universe uint16
	data     Payload
}

// groupChanges splits global channel changes by universe, in ascending universe order.
func groupChanges(changes []merge.Change) []universeChanges {
	index := map[uint16]int{}
	var out []universeChanges
	for _, ch := range changes {
		u, addr := universe.Split(ch.Channel)
		i, ok := index[u]
		if !ok {
			i = len(out)
			index[u] = i
			out = append(out, universeChanges{universe: u})
		}
		out[i].data = append(out[i].data, DMXCommand{Channel: addr, Value: ch.Value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].universe < out[j].universe })
	return out
}
