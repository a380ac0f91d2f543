package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sacnbridge/internal/artnet"
	"sacnbridge/internal/clientmqtt"
	"sacnbridge/internal/config"
	"sacnbridge/internal/logger"
	"sacnbridge/internal/replay"
	"sacnbridge/internal/sacn"

	"github.com/google/uuid"
)

var (
	configFile string
	replayFile string
)

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
	flag.StringVar(&replayFile, "replay", "", "Replay a pcap capture through the receiver and exit")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if replayFile != "" {
		if err := runReplay(ctx, log, cfg); err != nil {
			log.Errorf("replay failed: %v", err)
			cancel()
			os.Exit(1)
		}
		return
	}

	receiver, err := sacn.NewReceiver(log, ConvertConfigReceiver(cfg.Receiver))
	if err != nil {
		log.With(logger.Fields{"module": "receiver"}).Errorf("failed to start receiver: %v", err)
		cancel()
		os.Exit(1)
	}
	for _, u := range cfg.Receiver.Universes {
		if _, err := receiver.AddUniverse(u); err != nil {
			log.With(logger.Fields{"module": "receiver"}).Errorf("failed to join universe %d: %v", u, err)
		}
	}

	var client *clientmqtt.ClientMQTT
	commands := make(chan clientmqtt.DataCh, 10)
	if cfg.MQTT.Enabled {
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT))
		log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")
		if err = client.Start(ctx, commands); err != nil {
			log.Error("failed to start MQTT service:", err.Error())
			cancel()
		}
	}

	var a *artnet.ArtNet
	if cfg.ArtNet.Enabled {
		a, err = artnet.NewController(log, ConvertConfigArtNet(cfg.ArtNet))
		if err != nil {
			log.With(logger.Fields{"module": "art-net"}).Errorf("error while creating a new controller art-net. %v", err)
			cancel()
		} else if err = a.Start(ctx); err != nil {
			log.Error("failed to start art-net service:", err.Error())
			a = nil
			cancel()
		}
	}

	outputs := map[uint16]dmxOutput{}
	if cfg.Sender.Enabled {
		for _, u := range cfg.Sender.Universes {
			senderCfg, err := ConvertConfigSender(cfg.Sender, u)
			if err != nil {
				log.With(logger.Fields{"module": "sender"}).Errorf("bad sender configuration: %v", err)
				cancel()
				break
			}
			s, err := sacn.NewSender(log, senderCfg)
			if err != nil {
				log.With(logger.Fields{"module": "sender"}).Errorf("failed to create sender of universe %d: %v", u, err)
				cancel()
				break
			}
			outputs[u] = s
		}
	}
	bridge := newCommandBridge(log, outputs)

	go func() {
		for p := range receiver.Packets() {
			log.With(logger.Fields{"module": "receiver", "universe": p.Universe}).
				Debugf("packet from %q seq %d, %d channels", p.SourceLabel, p.Sequence, len(p.Channels()))
		}
	}()

	go func() {
		for changes := range receiver.Changes() {
			if client != nil {
				client.PublishChanges(changes)
			}
			if a != nil {
				a.SetChannels(changes)
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-commands:
				if err := bridge.apply(cmd); err != nil {
					log.With(logger.Fields{"module": "bridge"}).Warnf("command dropped: %v", err)
				}
			}
		}
	}()

	<-ctx.Done()

	if err := receiver.Close(); err != nil {
		log.Error("failed to stop receiver:", err.Error())
	}

	bridge.close()

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}

	if a != nil {
		a.Stop()
	}

	log.Info("shutdown complete")
}

func runReplay(ctx context.Context, log *logger.Log, cfg *config.Config) error {
	f, err := os.Open(replayFile)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", replayFile, err)
	}
	defer f.Close()

	rc := ConvertConfigReceiver(cfg.Receiver)
	p := sacn.NewPipeline(log, sacn.PipelineConfig{
		AllStartCodes: rc.AllStartCodes,
		SourceTimeout: rc.SourceTimeout,
	})
	changes := 0
	_, err = replay.Run(ctx, log, f, replay.Options{Port: rc.Port, SweepInterval: rc.SweepInterval}, p,
		func(res sacn.Result) { changes += len(res.Changes) })
	if err != nil {
		return err
	}

	l := log.With(logger.Fields{"module": "replay"})
	l.Infof("%d channel changes, %d sources live at end of capture", changes, len(p.Sources()))
	for _, src := range p.Sources() {
		l.Infof("source %s %q priority %d", src.CID, src.Label, src.Priority)
	}
	return nil
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	schema := cfg.Schema
	if schema == "" {
		schema = "tcp"
	}
	return clientmqtt.MQTTConf{
		ClientID: cfg.ClientID,
		Schema:   schema,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Qos:      cfg.Qos,
		Prefix:   cfg.Prefix,
	}
}

// ConvertConfigReceiver преобразует структуры.
func ConvertConfigReceiver(cfg config.ReceiverConf) sacn.ReceiverConfig {
	return sacn.ReceiverConfig{
		Interface:     cfg.Interface,
		Address:       cfg.Address,
		Port:          cfg.Port,
		AllStartCodes: !cfg.DMXOnly,
		SourceTimeout: time.Duration(cfg.SourceTimeoutMs) * time.Millisecond,
		SweepInterval: time.Duration(cfg.SweepIntervalMs) * time.Millisecond,
		Buffer:        cfg.Buffer,
	}
}

// ConvertConfigSender builds the sender configuration of universe u.
func ConvertConfigSender(cfg config.SenderConf, u uint16) (sacn.SenderConfig, error) {
	var opts sacn.PacketOptions
	if cfg.CID != "" {
		cid, err := uuid.Parse(cfg.CID)
		if err != nil {
			return sacn.SenderConfig{}, fmt.Errorf("bad cid %q: %w", cfg.CID, err)
		}
		opts.CID = cid
	}
	if cfg.Priority < 0 || cfg.Priority > 200 {
		return sacn.SenderConfig{}, fmt.Errorf("priority %d out of range 0-200", cfg.Priority)
	}
	opts.Priority = sacn.Priority(uint8(cfg.Priority))
	opts.SourceLabel = cfg.SourceLabel

	return sacn.SenderConfig{
		Universe:           u,
		Interface:          cfg.Interface,
		Port:               cfg.Port,
		MinRefreshRate:     cfg.MinRefreshRate,
		Defaults:           opts,
		UnicastDestination: cfg.UnicastDestination,
	}, nil
}

// ConvertConfigArtNet преобразует структуры.
func ConvertConfigArtNet(cfg config.ArtNetConf) artnet.Config {
	return artnet.Config{
		Network: cfg.Network,
		MaxFPS:  cfg.MaxFPS,
	}
}
