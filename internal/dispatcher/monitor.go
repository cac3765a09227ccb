package dispatcher

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	OrderRegister   = "REGISTER"
	OrderUnregister = "UNREGISTER"
	MonitorDone     = "MONITORDONE"
)

// MonitorRouter keeps the set of rules watched per host, driven by
// REGISTER and UNREGISTER orders on a monitor channel.
type MonitorRouter struct {
	mu      sync.RWMutex
	watches map[string]map[string]time.Duration
	log     zerolog.Logger
}

// NewMonitorRouter returns an empty monitor router.
func NewMonitorRouter(log zerolog.Logger) *MonitorRouter {
	return &MonitorRouter{
		watches: make(map[string]map[string]time.Duration),
		log:     log,
	}
}

func (m *MonitorRouter) Do(rec Record) bool {
	switch rec.Type {
	case MonitorDone:
		m.log.Info().Msg("Monitor done")
		return true
	case OrderRegister:
		m.register(rec.Hosts, rec.Rules, time.Duration(rec.Delay*float64(time.Second)))
	case OrderUnregister:
		m.unregister(rec.Hosts, rec.Rules)
	default:
		m.log.Debug().Str("type", rec.Type).Str("host", rec.Host).Msg("Ignoring monitor message")
	}
	return false
}

func (m *MonitorRouter) register(hosts, rules []string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hosts {
		set, ok := m.watches[h]
		if !ok {
			set = make(map[string]time.Duration)
			m.watches[h] = set
		}
		for _, rule := range rules {
			set[rule] = delay
		}
	}
	m.log.Info().Strs("hosts", hosts).Strs("rules", rules).Dur("delay", delay).Msg("Rules registered")
}

// unregister removes rules from hosts. No rules removes every rule of the host.
func (m *MonitorRouter) unregister(hosts, rules []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hosts {
		set, ok := m.watches[h]
		if !ok {
			continue
		}
		if len(rules) == 0 {
			delete(m.watches, h)
			continue
		}
		for _, rule := range rules {
			delete(set, rule)
		}
		if len(set) == 0 {
			delete(m.watches, h)
		}
	}
	m.log.Info().Strs("hosts", hosts).Strs("rules", rules).Msg("Rules unregistered")
}

// Hosts returns the watched hosts, sorted.
func (m *MonitorRouter) Hosts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.watches))
	for h := range m.watches {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Rules returns the rules watched on host, sorted.
func (m *MonitorRouter) Rules(host string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.watches[host]))
	for r := range m.watches[host] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Delay returns the check delay registered for rule on host.
func (m *MonitorRouter) Delay(host, rule string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.watches[host][rule]
	return d, ok
}
