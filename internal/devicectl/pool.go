package devicectl

import (
	"time"

	"github.com/projectdiscovery/gcache"
)

const (
	defaultPoolSize = 256
	defaultPoolTTL  = 15 * time.Minute
)

// Pool hands out one Client per address, evicting idle ones.
type Pool struct {
	opts    Options
	clients gcache.Cache[string, *Client]
}

// NewPool creates a pool whose clients share opts.
func NewPool(opts Options) *Pool {
	return NewPoolWithSize(opts, defaultPoolSize, defaultPoolTTL)
}

// NewPoolWithSize creates a pool holding at most size clients for ttl each.
func NewPoolWithSize(opts Options, size int, ttl time.Duration) *Pool {
	return &Pool{
		opts: opts,
		clients: gcache.New[string, *Client](size).
			LRU().
			Expiration(ttl).
			Build(),
	}
}

// Get returns the cached client for address, creating it if needed.
func (p *Pool) Get(address string) (*Client, error) {
	if client, err := p.clients.Get(address); err == nil {
		return client, nil
	}
	client, err := NewClient(address, p.opts)
	if err != nil {
		return nil, err
	}
	_ = p.clients.Set(address, client)
	return client, nil
}

// Len reports how many clients are cached.
func (p *Pool) Len() int {
	return p.clients.Len(true)
}

// Purge drops every cached client.
func (p *Pool) Purge() {
	p.clients.Purge()
}
