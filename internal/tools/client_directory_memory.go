package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryClientDirectory is a process-local ClientDirectory keyed by
// bot and by CURP/phone/email, sufficient for a single-node deployment
// or for exercising the client-management built-ins without standing
// up an external CRM. A multi-node deployment supplies its own
// ClientDirectory backed by whatever system of record it already runs.
type MemoryClientDirectory struct {
	mu      sync.Mutex
	byID    map[string]*Client          // clientID -> client
	byBot   map[string]map[string]string // botID -> lookup key -> clientID
	creds   map[string]map[string]string // clientID -> credentials
}

func NewMemoryClientDirectory() *MemoryClientDirectory {
	return &MemoryClientDirectory{
		byID:  make(map[string]*Client),
		byBot: make(map[string]map[string]string),
		creds: make(map[string]map[string]string),
	}
}

func (d *MemoryClientDirectory) Lookup(ctx context.Context, botID string, curpOrPhoneOrEmail string) (*Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys, ok := d.byBot[botID]
	if !ok {
		return nil, nil
	}
	id, ok := keys[curpOrPhoneOrEmail]
	if !ok {
		return nil, nil
	}
	c := d.byID[id]
	copy := *c
	return &copy, nil
}

func (d *MemoryClientDirectory) Register(ctx context.Context, botID string, c Client) (*Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c.ID = uuid.NewString()
	stored := c
	d.byID[c.ID] = &stored

	keys, ok := d.byBot[botID]
	if !ok {
		keys = make(map[string]string)
		d.byBot[botID] = keys
	}
	for _, k := range []string{c.CURP, c.Phone, c.Email} {
		if k != "" {
			keys[k] = c.ID
		}
	}

	result := stored
	return &result, nil
}

func (d *MemoryClientDirectory) SaveCredentials(ctx context.Context, botID, clientID string, credentials map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[clientID]; !ok {
		return fmt.Errorf("tools: unknown client %s", clientID)
	}
	d.creds[clientID] = credentials
	return nil
}

var _ ClientDirectory = (*MemoryClientDirectory)(nil)
