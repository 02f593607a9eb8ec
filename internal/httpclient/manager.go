// Package httpclient owns one pooled *http.Client per backend instance
// ID, sized from the instance's effective RPM, as described in §4.6.
package httpclient

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/llmcore/pkg/types"
)

const (
	connectTimeout     = 5 * time.Second
	responseTimeout    = 60 * time.Second
	idleTimeout        = 20 * time.Second
	maxConnLifetime    = 10 * time.Minute
	evictionInterval   = 30 * time.Second
	minPoolConnections = 10
	maxPoolConnections = 200
)

type pooledClient struct {
	client    *http.Client
	transport *http.Transport
	createdAt time.Time
}

// Manager lazily builds and caches one pooled client per instance ID.
// Creation is double-checked under a per-ID lock held in a concurrent
// map; refresh/eviction are serialized by a single global lock, acquired
// before any per-ID lock it must clear (the only nesting order in this
// package, matching the router's documented lock order).
type Manager struct {
	refreshMu sync.Mutex

	idLocks sync.Map // id -> *sync.Mutex
	clients sync.Map // id -> *pooledClient

	log *slog.Logger
}

// New returns an empty Manager.
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// Get returns the cached client for inst, lazily constructing one on
// first use.
func (m *Manager) Get(inst *types.ModelInstance) *http.Client {
	if v, ok := m.clients.Load(inst.ID); ok {
		return v.(*pooledClient).client
	}

	lockIface, _ := m.idLocks.LoadOrStore(inst.ID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if v, ok := m.clients.Load(inst.ID); ok {
		return v.(*pooledClient).client
	}

	pc := m.build(inst)
	m.clients.Store(inst.ID, pc)
	return pc.client
}

func (m *Manager) build(inst *types.ModelInstance) *pooledClient {
	maxConns := clamp(inst.EffectiveRPM()/10, minPoolConnections, maxPoolConnections)

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       maxConns,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       idleTimeout,
		ResponseHeaderTimeout: responseTimeout,
		DisableCompression:    false,
	}
	return &pooledClient{
		client:    &http.Client{Transport: transport, Timeout: responseTimeout},
		transport: transport,
		createdAt: time.Now(),
	}
}

// Refresh disposes pools for every cached ID not present in activeIDs,
// clearing both the client and its per-ID lock entry so the concurrent
// map does not grow unbounded (§9).
func (m *Manager) Refresh(activeIDs map[string]struct{}) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	var stale []string
	m.clients.Range(func(k, _ any) bool {
		id := k.(string)
		if _, ok := activeIDs[id]; !ok {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		m.disposeLocked(id)
	}
}

// Shutdown disposes every pool, e.g. on process exit.
func (m *Manager) Shutdown() {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	var ids []string
	m.clients.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	for _, id := range ids {
		m.disposeLocked(id)
	}
}

// disposeLocked requires refreshMu to already be held.
func (m *Manager) disposeLocked(id string) {
	if lockIface, ok := m.idLocks.Load(id); ok {
		lock := lockIface.(*sync.Mutex)
		lock.Lock()
		if v, ok := m.clients.Load(id); ok {
			v.(*pooledClient).transport.CloseIdleConnections()
			m.clients.Delete(id)
		}
		lock.Unlock()
		m.idLocks.Delete(id)
	} else if v, ok := m.clients.Load(id); ok {
		v.(*pooledClient).transport.CloseIdleConnections()
		m.clients.Delete(id)
	}
}

// RunEvictionLoop periodically disposes pools older than
// maxConnLifetime, paced by a rate.Limiter rather than a hand-rolled
// ticker-with-sleep. It blocks until ctx is cancelled.
func (m *Manager) RunEvictionLoop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(evictionInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		m.evictExpired()
	}
}

func (m *Manager) evictExpired() {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	now := time.Now()
	var expired []string
	m.clients.Range(func(k, v any) bool {
		if now.Sub(v.(*pooledClient).createdAt) >= maxConnLifetime {
			expired = append(expired, k.(string))
		}
		return true
	})
	for _, id := range expired {
		m.disposeLocked(id)
		m.log.Debug("evicted expired client pool", "instance_id", id)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
