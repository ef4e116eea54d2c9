package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kardianos/service"
	"github.com/milinda/geosmartbridge/hub"
	"github.com/milinda/geosmartbridge/relay"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func createLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, error := config.Build()

	if error != nil {
		log.Panic("Cannot initialize logger.", error)
	}

	return logger
}

// bridge wires config entries to the HomeKit, MQTT and HTTP surfaces.
type bridge struct {
	config     *Configuration
	hub        *hub.Hub
	mqttClient mqtt.Client
	server     *http.Server
}

func (b *bridge) initialize() error {
	timeout, err := b.config.Timeout()
	if err != nil {
		return err
	}

	b.hub = hub.New(hub.RelayCommanders(relay.WithTimeout(timeout)))

	if err := b.hub.AddPlatform(NewHomeKitPlatform(b.config)); err != nil {
		return err
	}

	if broker := b.config.Broker; broker != nil {
		b.mqttClient, err = connectMqtt(broker.Url, broker.UserName, broker.Password)
		if err != nil {
			zap.S().Errorf("Cannot connect to MQTT broker at %s", broker.Url)
			return err
		}

		if err := b.hub.AddPlatform(NewMqttPlatform(b.mqttClient, broker.TopicPrefix)); err != nil {
			return err
		}
	}

	entries, err := b.config.Entries()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if _, err := b.hub.SetupEntry(entry); err != nil {
			return err
		}
	}

	if b.config.Api != nil {
		b.server = &http.Server{
			Addr:    b.config.Api.Listen,
			Handler: NewRouter(b.hub),
		}

		go func() {
			zap.S().Infof("API listening on %s", b.server.Addr)
			if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.S().Error(err)
			}
		}()
	}

	return nil
}

func (b *bridge) Start(s service.Service) error {
	zap.S().Infof("HomeKit pin: %s", b.config.Pin)
	return b.initialize()
}

func (b *bridge) Stop(s service.Service) error {
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.server.Shutdown(ctx); err != nil {
			zap.S().Warn(err)
		}
	}

	if b.hub != nil {
		b.hub.Close()
	}

	if b.mqttClient != nil {
		b.mqttClient.Disconnect(250)
	}

	zap.S().Info("geosmartbridge exiting...")

	return nil
}

func main() {
	var config *Configuration
	var err error

	var logger = createLogger()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	configPath := flag.String("config-path", "", "Configuration file path")
	action := flag.String("service", "", "Control the system service: install, uninstall, start, stop, restart")
	flag.Parse()

	if configPath != nil && len(*configPath) > 0 {
		config, err = ParseConfig(*configPath)
		if err != nil {
			zap.S().Panic(err)
		}
	} else {
		zap.S().Info("Using default configuration.")
		config = DefaultConfig()
	}

	svcConfig := &service.Config{
		Name:        "geosmartbridge",
		DisplayName: "GeoSmartPro Bridge",
		Description: "Exposes Google relay fans to HomeKit, MQTT and HTTP.",
	}
	if len(*configPath) > 0 {
		svcConfig.Arguments = []string{"-config-path", *configPath}
	}

	svc, err := service.New(&bridge{config: config}, svcConfig)
	if err != nil {
		zap.S().Panic(err)
	}

	if len(*action) > 0 {
		if err := service.Control(svc, *action); err != nil {
			zap.S().Panic(err)
		}
		return
	}

	if err := svc.Run(); err != nil {
		zap.S().Error(err)
	}
}
