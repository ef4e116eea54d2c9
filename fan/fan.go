// Package fan implements a relay-driven smart fan as a controllable
// entity.
package fan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/milinda/geosmartbridge/speed"
	"go.uber.org/zap"
)

var ErrInvalidPercentage = errors.New("percentage out of range")

// Config identifies the remote fan. It is fixed for the entity's lifetime.
type Config struct {
	Username   string
	Host       string
	Room       string
	DeviceName string
}

// State is the locally tracked fan state. It is updated optimistically
// once the relay accepted every command of an operation.
type State struct {
	IsOn         bool
	CurrentSpeed string
}

func (s State) Percentage() int {
	pct, err := speed.LevelToPercentage(speed.Levels, s.CurrentSpeed)
	if err != nil {
		return 0
	}
	return pct
}

// Commander delivers a single natural-language command to the fan.
type Commander interface {
	SendCommand(ctx context.Context, command string) error
}

// Controllable is what a platform needs to expose a fan.
type Controllable interface {
	UniqueID() string
	Name() string
	IsOn() bool
	Percentage() int
	SpeedCount() int
	TurnOn(ctx context.Context, percentage *int, presetMode *string) error
	TurnOff(ctx context.Context) error
	SetPercentage(ctx context.Context, percentage int) error
	SetPresetMode(ctx context.Context, mode string) error
}

type Entity struct {
	config    Config
	commander Commander

	// opMu serializes operations; mu guards state and listeners only.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	listeners []func(State)
}

var _ Controllable = (*Entity)(nil)

func NewEntity(config Config, commander Commander) *Entity {
	return &Entity{
		config:    config,
		commander: commander,
	}
}

func (e *Entity) UniqueID() string {
	return fmt.Sprintf("%s_%s", e.config.DeviceName, e.config.Room)
}

func (e *Entity) Name() string {
	return e.config.DeviceName
}

func (e *Entity) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Entity) IsOn() bool {
	return e.State().IsOn
}

// Percentage reports the current speed as a percentage, or 0 while no
// valid speed has been set.
func (e *Entity) Percentage() int {
	return e.State().Percentage()
}

func (e *Entity) SpeedCount() int {
	return len(speed.Levels)
}

// OnStateChange registers fn to be called after every successful
// operation, with the state it left behind.
func (e *Entity) OnStateChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// TurnOn switches the fan on at the lowest speed. The requested
// percentage and preset mode are not forwarded to the relay.
func (e *Entity) TurnOn(ctx context.Context, percentage *int, presetMode *string) error {
	if percentage != nil || presetMode != nil {
		zap.S().Debugf("Fan %s always turns on at speed 1, ignoring requested percentage/preset", e.UniqueID())
	}

	return e.apply(ctx, func(s *State) {
		s.IsOn = true
		s.CurrentSpeed = speed.Levels[0]
	},
		fmt.Sprintf("turn on %s %s fan", e.config.Room, e.config.DeviceName),
		fmt.Sprintf("set %s %s to %s", e.config.Room, e.config.DeviceName, speed.Levels[0]),
	)
}

func (e *Entity) TurnOff(ctx context.Context) error {
	return e.apply(ctx, func(s *State) {
		s.IsOn = false
	},
		fmt.Sprintf("turn off %s %s fan", e.config.Room, e.config.DeviceName),
	)
}

// SetPercentage sets the speed to the level whose band contains
// percentage. Zero turns the fan off.
func (e *Entity) SetPercentage(ctx context.Context, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPercentage, percentage)
	}
	if percentage == 0 {
		return e.TurnOff(ctx)
	}

	level, err := speed.PercentageToLevel(speed.Levels, percentage)
	if err != nil {
		return err
	}

	return e.apply(ctx, func(s *State) {
		s.CurrentSpeed = level
	},
		fmt.Sprintf("set %s %s fan to %s", e.config.Room, e.config.DeviceName, level),
	)
}

// SetPresetMode is accepted but has no effect; the fan has no presets.
func (e *Entity) SetPresetMode(ctx context.Context, mode string) error {
	return nil
}

// apply sends commands in order and commits mutate only when all of them
// were delivered.
func (e *Entity) apply(ctx context.Context, mutate func(*State), commands ...string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	for _, command := range commands {
		if err := e.commander.SendCommand(ctx, command); err != nil {
			zap.S().Errorf("Fan %s: %v", e.UniqueID(), err)
			return err
		}
	}

	e.mu.Lock()
	mutate(&e.state)
	state := e.state
	listeners := make([]func(State), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}

	return nil
}
