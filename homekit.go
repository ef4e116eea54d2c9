package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	caccessory "github.com/milinda/geosmartbridge/accessory"
	"github.com/milinda/geosmartbridge/fan"
	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// HomeKitFan binds one fan entity to its HomeKit accessory.
type HomeKitFan struct {
	Id        string
	Entity    *fan.Entity
	Accessory *caccessory.Fan
	Transport hc.Transport

	mu      sync.Mutex
	removed bool
}

func NewHomeKitFan(f *fan.Entity) *HomeKitFan {
	accInfo := accessory.Info{
		Name:         f.Name(),
		SerialNumber: f.UniqueID(),
		Manufacturer: "GeoSmartPro",
		Model:        "Google relay fan",
	}

	g := &HomeKitFan{
		Id:        f.UniqueID(),
		Entity:    f,
		Accessory: caccessory.NewFan(accInfo, f.SpeedCount()),
	}
	g.Sync(f.State())

	g.Accessory.OnIdentify(func() {
		zap.S().Infof("Identifying accessory %s", g.Id)
	})

	g.Accessory.Fan.On.OnValueRemoteUpdate(func(power bool) {
		g.SetPower(power)
	})

	g.Accessory.Fan.Speed.OnValueRemoteUpdate(func(speed float64) {
		g.SetSpeed(speed)
	})

	return g
}

// Bind keeps the accessory in step with later entity state changes.
func (g *HomeKitFan) Bind() {
	g.Entity.OnStateChange(g.Sync)
}

// Sync copies the entity state onto the accessory characteristics.
func (g *HomeKitFan) Sync(state fan.State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.removed {
		return
	}

	g.Accessory.Fan.On.SetValue(state.IsOn)
	g.Accessory.Fan.Speed.SetValue(float64(state.Percentage()))
}

func (g *HomeKitFan) SetPower(power bool) error {
	var err error

	if power {
		err = g.Entity.TurnOn(context.Background(), nil, nil)
	} else {
		err = g.Entity.TurnOff(context.Background())
	}

	if err != nil {
		zap.S().Errorf("Could not set power of %s to %v: %v", g.Id, power, err)
		g.Sync(g.Entity.State())
	}

	return err
}

func (g *HomeKitFan) SetSpeed(speed float64) error {
	err := g.Entity.SetPercentage(context.Background(), int(math.Round(speed)))

	if err != nil {
		zap.S().Errorf("Could not set speed of %s to %.0f: %v", g.Id, speed, err)
		g.Sync(g.Entity.State())
	}

	return err
}

func (g *HomeKitFan) markRemoved() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = true
}

// HomeKitPlatform publishes every fan as a HomeKit accessory on its own
// IP transport.
type HomeKitPlatform struct {
	config       *Configuration
	newTransport func(hc.Config, *accessory.Accessory) (hc.Transport, error)

	mu   sync.Mutex
	fans map[string]*HomeKitFan
}

// pairingURI is implemented by hc's IP transport, which hc.Transport
// does not expose.
type pairingURI interface {
	XHMURI() (string, error)
}

func NewHomeKitPlatform(c *Configuration) *HomeKitPlatform {
	return &HomeKitPlatform{
		config: c,
		newTransport: func(config hc.Config, a *accessory.Accessory) (hc.Transport, error) {
			return hc.NewIPTransport(config, a)
		},
		fans: map[string]*HomeKitFan{},
	}
}

func (p *HomeKitPlatform) Add(f *fan.Entity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, found := p.fans[f.UniqueID()]; found {
		return fmt.Errorf("homekit accessory %s already exists", f.UniqueID())
	}

	zap.S().Infof("Registering HomeKit fan %s", f.UniqueID())

	g := NewHomeKitFan(f)

	var tConfig hc.Config
	if p.config.StorageDir != "" {
		tConfig = hc.Config{Pin: p.config.Pin, StoragePath: filepath.Join(p.config.StorageDir, g.Id)}
	} else {
		tConfig = hc.Config{Pin: p.config.Pin}
	}
	transport, err := p.newTransport(tConfig, g.Accessory.Accessory)
	if err != nil {
		return fmt.Errorf("homekit transport for %s: %w", g.Id, err)
	}
	g.Transport = transport
	g.Bind()

	go func() {
		p.showPairingCode(g.Id, transport)
		transport.Start()
	}()

	p.fans[g.Id] = g

	return nil
}

func (p *HomeKitPlatform) Remove(f *fan.Entity) {
	p.mu.Lock()
	g, found := p.fans[f.UniqueID()]
	delete(p.fans, f.UniqueID())
	p.mu.Unlock()

	if !found {
		return
	}

	g.markRemoved()
	<-g.Transport.Stop()

	zap.S().Infof("Removed HomeKit fan %s", g.Id)
}

func (p *HomeKitPlatform) showPairingCode(id string, transport hc.Transport) {
	t, ok := transport.(pairingURI)
	if !ok {
		zap.S().Warnf("No pairing code for %s: transport has no setup URI", id)
		return
	}

	uri, err := t.XHMURI()
	if err != nil {
		zap.S().Warnf("No pairing code for %s: %v", id, err)
		return
	}

	png := fmt.Sprintf("%s.png", id)
	if p.config.StorageDir != "" {
		png = filepath.Join(p.config.StorageDir, png)
	}
	if err := qrcode.WriteFile(uri, qrcode.Medium, 256, png); err != nil {
		zap.S().Warnf("Could not write pairing code for %s: %v", id, err)
	}

	zap.S().Infof("Pairing code for %s (pin %s):", id, p.config.Pin)
	qrterminal.Generate(uri, qrterminal.L, os.Stdout)
}
