package main

import (
	"fmt"
	"sync"

	"sacnbridge/internal/clientmqtt"
	"sacnbridge/internal/logger"
	"sacnbridge/internal/universe"
)

// dmxOutput is satisfied by *sacn.Sender.
type dmxOutput interface {
	Send(data []byte) error
	Close() error
}

// commandBridge turns MQTT channel commands into sACN frames. Every
// universe keeps its last frame so a command only changes the channels it names.
type commandBridge struct {
	log *logger.Log

	mu      sync.Mutex
	outputs map[uint16]dmxOutput
	frames  map[uint16][]byte
}

func newCommandBridge(log logger.Logger, outputs map[uint16]dmxOutput) *commandBridge {
	frames := make(map[uint16][]byte, len(outputs))
	for u := range outputs {
		// start code 0 followed by 512 channels
		frames[u] = make([]byte, universe.Channels+1)
	}
	return &commandBridge{
		log:     log.With(logger.Fields{"module": "bridge"}),
		outputs: outputs,
		frames:  frames,
	}
}

// apply updates the frame of the command's universe and sends it.
func (b *commandBridge) apply(cmd clientmqtt.DataCh) error {
	b.mu.Lock()
	out, ok := b.outputs[cmd.Universe]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("universe %d is not configured for sending", cmd.Universe)
	}
	frame := b.frames[cmd.Universe]
	for _, c := range cmd.Data {
		if c.Channel < 1 || c.Channel > universe.Channels {
			continue
		}
		frame[c.Channel] = c.Value
	}
	data := append([]byte(nil), frame...)
	b.mu.Unlock()

	return out.Send(data)
}

func (b *commandBridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for u, out := range b.outputs {
		if err := out.Close(); err != nil {
			b.log.Errorf("failed to close sender of universe %d: %v", u, err)
		}
	}
}
