package artnet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/merge"
	"sacnbridge/internal/universe"

	"github.com/Haba1234/go-artnet"
)

const (
	// DefaultMaxFPS limits the frame rate per node.
	DefaultMaxFPS = 40

	// MaxUniverse is the highest sACN universe with an Art-Net port-address.
	MaxUniverse = 32768

	nodeListInterval = 30 * time.Second
)

// Config configures the Art-Net output.
type Config struct {
	Network string // Network is the CIDR of the Art-Net network, DefaultNetwork if empty.
	MaxFPS  int
}

// ArtNet is transport for the ArtNet protocol (DMX over UDP/IP). It forwards
// merged sACN universes to the Art-Net nodes.
type ArtNet struct {
	logger      *logger.Log
	sender      dmxSender
	nodes       func() []*artnet.ControlledNode
	state       *State
	sendTrigger chan UniverseStateMap
	ctx         context.Context
}

// NewController returns an art-net Controller bound to the local address inside cfg.Network.
func NewController(log logger.Logger, cfg Config) (*ArtNet, error) {
	ip, err := FindArtNetIP(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	if len(ip) == 0 {
		return nil, errors.New("failed to find the art-net IP: No interface found")
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}

	fps := cfg.MaxFPS
	if fps <= 0 {
		fps = DefaultMaxFPS
	}

	host = strings.ToLower(strings.Split(host, ".")[0])
	l := log.With(logger.Fields{"module": "art-net"})
	l.Infof("Using ArtNet IP %s and hostname %s", ip.String(), host)

	senderLogger := artnet.NewDefaultLogger("info")
	controller := artnet.NewController(host, ip, senderLogger, artnet.MaxFPS(fps))

	a := newArtNet(l, controller)
	a.nodes = func() []*artnet.ControlledNode { return controller.Nodes }
	return a, nil
}

func newArtNet(log *logger.Log, sender dmxSender) *ArtNet {
	return &ArtNet{
		logger:      log,
		sender:      sender,
		nodes:       func() []*artnet.ControlledNode { return nil },
		state:       NewState(),
		sendTrigger: make(chan UniverseStateMap, 100),
	}
}

// Start the ArtNet. Sending stops when ctx is done.
func (c *ArtNet) Start(ctx context.Context) error {
	if err := c.sender.Start(); err != nil {
		return fmt.Errorf("failed to start Controller: %w", err)
	}

	c.ctx = ctx
	go c.sendBackground()
	go c.debugDevices()
	return nil
}

// Stop the ArtNet.
func (c *ArtNet) Stop() {
	c.sender.Stop()
}

func (c *ArtNet) SetDMXChannelValue(value ChannelValue) {
	c.state.SetChannel(value.Universe, value.Channel, value.Value)
	c.triggerSend(value.Universe)
}

func (c *ArtNet) SetDMXChannelValues(values []ChannelValue) {
	c.triggerSend(c.state.SetChannelValues(values)...)
}

// SetChannels applies merged sACN changes and sends the affected universes.
// Universes above MaxUniverse are skipped.
func (c *ArtNet) SetChannels(changes []merge.Change) {
	values := make([]ChannelValue, 0, len(changes))
	var skipped map[uint16]bool
	for _, ch := range changes {
		u, addr := universe.Split(ch.Channel)
		if u > MaxUniverse {
			if !skipped[u] {
				if skipped == nil {
					skipped = map[uint16]bool{}
				}
				skipped[u] = true
				c.logger.Warnf("universe %d has no art-net port-address, skipped", u)
			}
			continue
		}
		values = append(values, ChannelValue{Universe: u, Channel: addr, Value: ch.Value})
	}
	c.SetDMXChannelValues(values)
}

func (c *ArtNet) triggerSend(universes ...uint16) {
	if len(universes) == 0 {
		return
	}
	c.logger.Debug("DMX. Отправка в канал")
	select {
	case c.sendTrigger <- c.state.Get(universes...):
	case <-c.ctx.Done():
	}
}

func (c *ArtNet) sendBackground() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendTrigger:
			for u, dmx := range data {
				// u - вселенная sACN.
				// dmx - массив данных до 512 байт.
				c.logger.Debugf("DMX. Отправка в контроллер по адресу %v", u)
				c.sender.SendDMXToAddress(dmx, universeToAddress(u))
			}
		}
	}
}

// universeToAddress converts an sACN universe to the art-net port-address u-1.
// старший байт - Net, младший байт - SubUni.
func universeToAddress(u uint16) artnet.Address {
	port := u - 1
	return artnet.Address{
		Net:    uint8(port>>8) & 0x7f,
		SubUni: uint8(port),
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) (string, NodeTopic) {
	var inputs, outputs []string
	var out []uint16
	var outStr []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
		out = append(out, uint16(p.Address.Integer()))
		outStr = append(outStr, p.Address.String())
	}

	return fmt.Sprintf(
			" | IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
			n.UDPAddress.String(), n.Node.Name, n.Node.Type,
			n.Node.Manufacturer, n.Node.Description,
			strings.Join(inputs, "; "), strings.Join(outputs, "; "),
		), NodeTopic{
			Name:      n.Node.Name,
			OutputStr: outStr,
			Output:    out,
		}
}

func ips(nodes []*artnet.ControlledNode) (ips IpsType) {
	ips = IpsType{}
	for _, n := range nodes {
		node, out := NodeToString(n)
		ips.Ips = append(ips.Ips, node)
		ips.Topics = append(ips.Topics, out)
	}
	return ips
}

// nodeSummary names the outputs of a node with the sACN universe each one takes.
func nodeSummary(top NodeTopic) string {
	parts := make([]string, len(top.Output))
	for i, port := range top.Output {
		parts[i] = fmt.Sprintf("%s=universe %d", top.OutputStr[i], uint32(port)+1)
	}
	return fmt.Sprintf("node %s outputs: %s", top.Name, strings.Join(parts, ", "))
}

func (c *ArtNet) debugDevices() {
	t := time.NewTicker(nodeListInterval)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			nodes := c.nodes()
			dev := ips(nodes)
			c.logger.Debugf("Currently %d devices are registered: %v", len(nodes), dev.Ips)
			for _, top := range dev.Topics {
				c.logger.Debug(nodeSummary(top))
			}
		}
	}
}
