// Package hub owns the fans created from config entries and hands them
// to the platforms that expose them.
package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/milinda/geosmartbridge/configflow"
	"github.com/milinda/geosmartbridge/fan"
	"github.com/milinda/geosmartbridge/relay"
	"go.uber.org/zap"
)

var (
	ErrDuplicateEntry = errors.New("config entry already set up")
	ErrDuplicateFan   = errors.New("fan already registered")
	ErrUnknownEntry   = errors.New("unknown config entry")
)

// Platform exposes fans to the outside world.
type Platform interface {
	Add(f *fan.Entity) error
	Remove(f *fan.Entity)
}

// CommanderFactory builds the relay connection for one fan.
type CommanderFactory func(config fan.Config) fan.Commander

type loadedEntry struct {
	entry configflow.Entry
	fans  []*fan.Entity
}

type Hub struct {
	newCommander CommanderFactory

	mu        sync.Mutex
	platforms []Platform
	entries   map[string]*loadedEntry
	fans      map[string]*fan.Entity
}

func New(factory CommanderFactory) *Hub {
	return &Hub{
		newCommander: factory,
		entries:      map[string]*loadedEntry{},
		fans:         map[string]*fan.Entity{},
	}
}

// RelayCommanders creates a relay client per fan with the given options.
func RelayCommanders(opts ...relay.Option) CommanderFactory {
	return func(config fan.Config) fan.Commander {
		return relay.NewClient(config.Host, config.Username, opts...)
	}
}

// AddPlatform registers p. Fans set up earlier are added to it right away.
func (h *Hub) AddPlatform(p Platform) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.platforms = append(h.platforms, p)
	for _, id := range h.sortedFanIDs() {
		if err := p.Add(h.fans[id]); err != nil {
			return fmt.Errorf("add fan %s: %w", id, err)
		}
	}

	return nil
}

// SetupEntry creates the entry's fan and adds it to every platform. An
// entry always yields exactly one fan.
func (h *Hub) SetupEntry(entry configflow.Entry) ([]*fan.Entity, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, found := h.entries[entry.ID]; found {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.ID)
	}

	config := entry.FanConfig()
	f := fan.NewEntity(config, h.newCommander(config))
	if _, found := h.fans[f.UniqueID()]; found {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFan, f.UniqueID())
	}

	fans := []*fan.Entity{f}
	for i, p := range h.platforms {
		if err := p.Add(f); err != nil {
			for _, added := range h.platforms[:i] {
				added.Remove(f)
			}
			return nil, fmt.Errorf("set up entry %s: %w", entry.ID, err)
		}
	}

	h.entries[entry.ID] = &loadedEntry{entry: entry, fans: fans}
	h.fans[f.UniqueID()] = f

	zap.S().Infof("Set up entry %s with fan %s", entry.ID, f.UniqueID())

	return fans, nil
}

// UnloadEntry removes the entry's fans from every platform and forgets them.
func (h *Hub) UnloadEntry(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	loaded, found := h.entries[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}

	for _, f := range loaded.fans {
		for _, p := range h.platforms {
			p.Remove(f)
		}
		delete(h.fans, f.UniqueID())
	}
	delete(h.entries, id)

	zap.S().Infof("Unloaded entry %s", id)

	return nil
}

// Close unloads every entry.
func (h *Hub) Close() {
	for _, e := range h.Entries() {
		if err := h.UnloadEntry(e.ID); err != nil {
			zap.S().Warn(err)
		}
	}
}

func (h *Hub) Entries() []configflow.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]configflow.Entry, 0, len(h.entries))
	for _, l := range h.entries {
		out = append(out, l.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (h *Hub) Fans() []*fan.Entity {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*fan.Entity, 0, len(h.fans))
	for _, id := range h.sortedFanIDs() {
		out = append(out, h.fans[id])
	}

	return out
}

func (h *Hub) Fan(uniqueID string) (*fan.Entity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, found := h.fans[uniqueID]
	return f, found
}

func (h *Hub) sortedFanIDs() []string {
	ids := make([]string, 0, len(h.fans))
	for id := range h.fans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
