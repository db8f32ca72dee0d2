package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// ConnectorConfig selects which backends a connector offers.
type ConnectorConfig struct {
	Network   string
	Preferred string
}

// Connector chooses a wallet backend and keeps its provider open for the
// lifetime of the process. The choice is never persisted across restarts.
type Connector struct {
	network   string
	preferred string
	order     []string
	backends  map[string]Backend

	mu     sync.Mutex
	cached Provider
	active string
}

func NewConnector(cfg ConnectorConfig, backends ...Backend) (*Connector, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("no wallet backends enabled")
	}
	c := &Connector{
		network:  cfg.Network,
		backends: make(map[string]Backend, len(backends)),
	}
	for _, b := range backends {
		name := b.Name()
		if _, dup := c.backends[name]; dup {
			return nil, fmt.Errorf("wallet backend %q enabled twice", name)
		}
		c.backends[name] = b
		c.order = append(c.order, name)
	}
	c.preferred = cfg.Preferred
	if c.preferred == "" {
		c.preferred = c.order[0]
	}
	if _, ok := c.backends[c.preferred]; !ok {
		return nil, fmt.Errorf("preferred wallet backend %q is not enabled", c.preferred)
	}
	return c, nil
}

// Backends lists the enabled backend names in configuration order.
func (c *Connector) Backends() []string {
	return append([]string(nil), c.order...)
}

// Connect returns the cached provider or opens the preferred backend.
func (c *Connector) Connect(ctx context.Context) (Provider, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return c.cached, c.active, nil
	}
	backend := c.backends[c.preferred]
	provider, err := backend.Open(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("open %s wallet: %w", backend.Name(), err)
	}
	log.Debug("Wallet provider opened", "backend", backend.Name(), "network", c.network)
	c.cached = provider
	c.active = backend.Name()
	return provider, c.active, nil
}

// ClearCachedProvider closes and forgets the open provider. Safe to call
// repeatedly.
func (c *Connector) ClearCachedProvider() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		return
	}
	c.cached.Close()
	log.Debug("Wallet provider closed", "backend", c.active)
	c.cached = nil
	c.active = ""
}
