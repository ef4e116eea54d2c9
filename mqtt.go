package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/milinda/geosmartbridge/fan"
	"go.uber.org/zap"
)

const (
	powerOn  = "ON"
	powerOff = "OFF"
)

// MqttFanState is published retained on {prefix}/{id}/state.
type MqttFanState struct {
	State      string `json:"state"`
	Percentage int    `json:"percentage"`
	Speed      string `json:"speed"`
}

// MqttFanCommand is accepted on {prefix}/{id}/set. Either field may be
// omitted.
type MqttFanCommand struct {
	State      *string `json:"state,omitempty"`
	Percentage *int    `json:"percentage,omitempty"`
}

func connectMqtt(brokerUrl string, userName string, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerUrl)

	if len(userName) > 0 && len(password) > 0 {
		opts.SetUsername(userName)
		opts.SetPassword(password)
	}

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return client, nil
}

func NewMqttFanState(state fan.State) MqttFanState {
	powerStr := powerOff
	if state.IsOn {
		powerStr = powerOn
	}

	return MqttFanState{
		State:      powerStr,
		Percentage: state.Percentage(),
		Speed:      state.CurrentSpeed,
	}
}

// HandleMqttCommand applies a command payload to f, power first.
func HandleMqttCommand(ctx context.Context, f fan.Controllable, payload []byte) error {
	var cmd MqttFanCommand

	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("could not parse command %s: %w", payload, err)
	}

	if cmd.State == nil && cmd.Percentage == nil {
		return errors.New("command carries neither state nor percentage")
	}

	if cmd.State != nil {
		var err error
		switch *cmd.State {
		case powerOn:
			err = f.TurnOn(ctx, cmd.Percentage, nil)
		case powerOff:
			err = f.TurnOff(ctx)
		default:
			return fmt.Errorf("invalid state %q", *cmd.State)
		}
		if err != nil {
			return err
		}
	}

	if cmd.Percentage != nil {
		return f.SetPercentage(ctx, *cmd.Percentage)
	}

	return nil
}

// MqttPlatform mirrors fan state to a broker and takes commands from it.
type MqttPlatform struct {
	MqClient mqtt.Client
	Prefix   string

	mu      sync.Mutex
	removed map[string]bool
}

func NewMqttPlatform(client mqtt.Client, prefix string) *MqttPlatform {
	return &MqttPlatform{
		MqClient: client,
		Prefix:   prefix,
		removed:  map[string]bool{},
	}
}

func (p *MqttPlatform) StateTopic(id string) string {
	return fmt.Sprintf("%s/%s/state", p.Prefix, id)
}

func (p *MqttPlatform) CommandTopic(id string) string {
	return fmt.Sprintf("%s/%s/set", p.Prefix, id)
}

func (p *MqttPlatform) Add(f *fan.Entity) error {
	id := f.UniqueID()
	commandTopic := p.CommandTopic(id)

	p.mu.Lock()
	delete(p.removed, id)
	p.mu.Unlock()

	zap.S().Infof("Mirroring fan %s at topic %s", id, p.StateTopic(id))

	f.OnStateChange(func(state fan.State) {
		p.publishState(f, state)
	})

	if token := p.MqClient.Subscribe(commandTopic, 0, func(client mqtt.Client, msg mqtt.Message) {
		if err := HandleMqttCommand(context.Background(), f, msg.Payload()); err != nil {
			zap.S().Errorf("Command on %s failed: %v", msg.Topic(), err)
		}
	}); token.Wait() && token.Error() != nil {
		zap.S().Error(token.Error())
		return fmt.Errorf("could not subscribe to topic %s", commandTopic)
	}

	return p.publishState(f, f.State())
}

func (p *MqttPlatform) Remove(f *fan.Entity) {
	id := f.UniqueID()

	p.mu.Lock()
	p.removed[id] = true
	p.mu.Unlock()

	if token := p.MqClient.Unsubscribe(p.CommandTopic(id)); token.Wait() && token.Error() != nil {
		zap.S().Errorf("Could not unsubscribe from topic %s: %v", p.CommandTopic(id), token.Error())
	}
}

func (p *MqttPlatform) publishState(f *fan.Entity, state fan.State) error {
	id := f.UniqueID()

	p.mu.Lock()
	removed := p.removed[id]
	p.mu.Unlock()
	if removed {
		return nil
	}

	stateMsg, err := json.Marshal(NewMqttFanState(state))
	if err != nil {
		zap.S().Error(err)
		return errors.New("could not convert state to JSON")
	}

	topic := p.StateTopic(id)
	if token := p.MqClient.Publish(topic, 0, true, stateMsg); token.Wait() && token.Error() != nil {
		zap.S().Error(token.Error())
		return fmt.Errorf("could not publish to topic %s", topic)
	}

	return nil
}
