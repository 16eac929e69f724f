package stratum

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coreminer/kawpowd/log"
)

// FailoverStrategy selects which configured pool to connect to.
type FailoverStrategy int

const (
	FailoverPriority FailoverStrategy = iota
	FailoverRoundRobin
	FailoverWeighted
	FailoverLowestLatency
)

// EndpointConfig is one pool entry in a multi-pool configuration.
type EndpointConfig struct {
	Name     string
	Addr     string
	Dialer   Dialer // nil selects TCPDialer; set to WSDialer for stratum+ws(s) schemes
	Priority int
	Weight   uint32
	Enabled  bool
}

type endpointMetrics struct {
	latency     time.Duration
	lastSuccess time.Time
	failures    uint32
	successes   uint32
}

// PoolManagerConfig parameterizes a PoolManager.
type PoolManagerConfig struct {
	Endpoints        []EndpointConfig
	Strategy         FailoverStrategy
	SessionDefaults  SessionConfig
}

// PoolManager owns a Session per configured endpoint and fails over
// between them according to Strategy. Grounded on original_source's
// mineos-stratum/src/pool.rs ConnectionPool.
type PoolManager struct {
	cfg PoolManagerConfig

	mu          sync.RWMutex
	sessions    map[string]*Session
	metrics     map[string]*endpointMetrics
	activePool  string
	rrIndex     int

	log *log.Logger
}

// NewPoolManager constructs a PoolManager with one Session per enabled
// endpoint, none yet connected.
func NewPoolManager(cfg PoolManagerConfig) *PoolManager {
	pm := &PoolManager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		metrics:  make(map[string]*endpointMetrics),
		log:      log.Root().With("component", "pool-manager"),
	}
	for _, ep := range cfg.Endpoints {
		if !ep.Enabled {
			continue
		}
		sessCfg := cfg.SessionDefaults
		sessCfg.Addr = ep.Addr
		pm.sessions[ep.Name] = NewSession(sessCfg, ep.Dialer)
		pm.metrics[ep.Name] = &endpointMetrics{}
	}
	return pm
}

// Connect selects the best pool per Strategy and connects to it, falling
// over through the remaining endpoints on failure.
func (pm *PoolManager) Connect(ctx context.Context) error {
	if len(pm.sessions) == 0 {
		return fmt.Errorf("stratum: no pools available")
	}

	name, err := pm.selectPool(nil)
	if err != nil {
		return err
	}
	if err := pm.connectTo(ctx, name); err == nil {
		return nil
	}
	return pm.failover(ctx, []string{name})
}

func (pm *PoolManager) connectTo(ctx context.Context, name string) error {
	pm.mu.RLock()
	sess, ok := pm.sessions[name]
	pm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("stratum: pool %q not found", name)
	}

	pm.log.Info("connecting to pool", "pool", name)
	start := time.Now()
	if err := sess.Connect(ctx); err != nil {
		pm.mu.Lock()
		pm.metrics[name].failures++
		pm.mu.Unlock()
		pm.log.Error("failed to connect to pool", "pool", name, "err", err)
		return err
	}

	pm.mu.Lock()
	pm.activePool = name
	pm.metrics[name].lastSuccess = time.Now()
	pm.metrics[name].successes++
	pm.metrics[name].latency = time.Since(start)
	pm.mu.Unlock()

	pm.log.Info("connected to pool", "pool", name)
	return nil
}

func (pm *PoolManager) failover(ctx context.Context, tried []string) error {
	pm.log.Warn("attempting failover to backup pool")

	for i := 0; i < len(pm.sessions); i++ {
		name, err := pm.selectPool(tried)
		if err != nil {
			break
		}
		if connErr := pm.connectTo(ctx, name); connErr == nil {
			return nil
		}
		tried = append(tried, name)
	}
	return fmt.Errorf("stratum: all pools failed")
}

func (pm *PoolManager) selectPool(exclude []string) (string, error) {
	switch pm.cfg.Strategy {
	case FailoverRoundRobin:
		return pm.selectRoundRobin(exclude)
	case FailoverWeighted:
		return pm.selectWeighted(exclude)
	case FailoverLowestLatency:
		return pm.selectLowestLatency(exclude)
	default:
		return pm.selectPriority(exclude)
	}
}

func excluded(name string, exclude []string) bool {
	for _, e := range exclude {
		if e == name {
			return true
		}
	}
	return false
}

func (pm *PoolManager) enabledEndpoints(exclude []string) []EndpointConfig {
	var out []EndpointConfig
	for _, ep := range pm.cfg.Endpoints {
		if ep.Enabled && !excluded(ep.Name, exclude) {
			out = append(out, ep)
		}
	}
	return out
}

func (pm *PoolManager) selectPriority(exclude []string) (string, error) {
	eps := pm.enabledEndpoints(exclude)
	if len(eps) == 0 {
		return "", fmt.Errorf("stratum: no pools available")
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Priority < eps[j].Priority })
	return eps[0].Name, nil
}

func (pm *PoolManager) selectRoundRobin(exclude []string) (string, error) {
	eps := pm.enabledEndpoints(exclude)
	if len(eps) == 0 {
		return "", fmt.Errorf("stratum: no pools available")
	}
	pm.mu.Lock()
	idx := pm.rrIndex % len(eps)
	pm.rrIndex++
	pm.mu.Unlock()
	return eps[idx].Name, nil
}

func (pm *PoolManager) selectWeighted(exclude []string) (string, error) {
	eps := pm.enabledEndpoints(exclude)
	if len(eps) == 0 {
		return "", fmt.Errorf("stratum: no pools available")
	}
	var total uint32
	for _, ep := range eps {
		total += ep.Weight
	}
	if total == 0 {
		return eps[0].Name, nil
	}
	r := uint32(rand.Intn(int(total)))
	for _, ep := range eps {
		if r < ep.Weight {
			return ep.Name, nil
		}
		r -= ep.Weight
	}
	return eps[0].Name, nil
}

func (pm *PoolManager) selectLowestLatency(exclude []string) (string, error) {
	eps := pm.enabledEndpoints(exclude)
	if len(eps) == 0 {
		return "", fmt.Errorf("stratum: no pools available")
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	best := eps[0].Name
	bestLatency := time.Duration(1<<63 - 1)
	for _, ep := range eps {
		m, ok := pm.metrics[ep.Name]
		lat := bestLatency
		if ok {
			lat = m.latency
		}
		if lat < bestLatency {
			bestLatency = lat
			best = ep.Name
		}
	}
	return best, nil
}

// Active returns the Session currently in use, if any.
func (pm *PoolManager) Active() (*Session, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	sess, ok := pm.sessions[pm.activePool]
	return sess, ok
}

// SendRequest forwards req to the active pool, triggering failover on
// failure.
func (pm *PoolManager) SendRequest(ctx context.Context, req Request) (*Response, error) {
	sess, ok := pm.Active()
	if !ok {
		return nil, fmt.Errorf("stratum: no active pool")
	}

	start := time.Now()
	resp, err := sess.SendRequest(req)

	pm.mu.Lock()
	name := pm.activePool
	if m, ok := pm.metrics[name]; ok {
		if err != nil {
			m.failures++
		} else {
			m.latency = time.Since(start)
			m.lastSuccess = time.Now()
		}
	}
	pm.mu.Unlock()

	if err != nil {
		pm.log.Warn("request failed on active pool", "pool", name, "err", err)
		if ferr := pm.failover(ctx, []string{name}); ferr != nil {
			pm.log.Error("failover after request failure failed", "err", ferr)
		}
	}
	return resp, err
}

// Disconnect tears down every session.
func (pm *PoolManager) Disconnect() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for name, sess := range pm.sessions {
		if err := sess.Close(); err != nil {
			pm.log.Debug("close error", "pool", name, "err", err)
		}
	}
	pm.activePool = ""
}

// IsConnected reports whether the active session is usable.
func (pm *PoolManager) IsConnected() bool {
	sess, ok := pm.Active()
	return ok && sess.IsConnected()
}
