package sender

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/malbeclabs/saimiris/internal/rawconn"
)

// handleTTL bounds how long opening a raw-injection handle for a new
// source address may take.
const handleTTL = 5 * time.Second

// handleCache caches one rawconn.Handle per distinct source address an
// instance sends from. A failed open is never cached, so a transient
// bind failure on one probe doesn't poison subsequent probes from the
// same address.
type handleCache struct {
	iface string
	mu    sync.Mutex
	byKey map[string]*cachedHandle
}

type cachedHandle struct {
	handle  *rawconn.Handle
	openedAt time.Time
}

func newHandleCache(iface string) *handleCache {
	return &handleCache{iface: iface, byKey: make(map[string]*cachedHandle)}
}

func (c *handleCache) get(ctx context.Context, source net.IP) (*rawconn.Handle, error) {
	key := source.String()

	c.mu.Lock()
	entry, ok := c.byKey[key]
	c.mu.Unlock()
	if ok {
		return entry.handle, nil
	}

	handle, err := rawconn.New(ctx, source, c.iface, handleTTL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byKey[key] = &cachedHandle{handle: handle, openedAt: time.Now()}
	c.mu.Unlock()
	return handle, nil
}

func (c *handleCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.byKey {
		entry.handle.Close()
	}
	c.byKey = make(map[string]*cachedHandle)
}
