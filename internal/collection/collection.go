// Package collection implements the bounded in-memory stores borderd
// exposes under /api/devices and /api/diagnostics. Items carry a uuid and
// timestamps, render as json:api or plain JSON with per-type field
// filtering, and are evicted strictly oldest-first by insertion when a
// collection reaches capacity.
package collection

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Default capacities.
const (
	MaxDevicesItems     = 200
	MaxDiagnosticsItems = 200
)

var evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "borderd_collection_evictions_total",
	Help: "Items evicted from a collection to make room for new ones.",
}, []string{"collection"})

// Item is one entry of a collection.
type Item interface {
	// ID is the stable item id: the ext address for devices, a uuid for
	// diagnostics.
	ID() string
	// TypeName is the json:api resource type.
	TypeName() string
	// Created and Updated are the item timestamps.
	Created() time.Time
	Updated() time.Time
	// Attributes returns the serialisable attribute map, without the
	// timestamp keys.
	Attributes() map[string]any
}

// Meta carries the common envelope of every collection item.
type Meta struct {
	UUID      uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMeta returns an initialised envelope with matching created/updated
// timestamps.
func NewMeta() Meta {
	now := time.Now().UTC()
	return Meta{UUID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

// Touch bumps the updated timestamp.
func (m *Meta) Touch() { m.UpdatedAt = time.Now().UTC() }

// Created implements Item.
func (m *Meta) Created() time.Time { return m.CreatedAt }

// Updated implements Item.
func (m *Meta) Updated() time.Time { return m.UpdatedAt }

// Collection is a bounded, FIFO-evicting item store. It is safe for
// concurrent use: the collector writes while HTTP handlers render.
type Collection struct {
	mu         sync.RWMutex
	name       string
	maxItems   int
	items      map[string]Item
	ageOrder   []string
	holdsTypes map[string]int
	logger     *zap.Logger
}

// New creates an empty collection with the given capacity.
func New(name string, maxItems int, logger *zap.Logger) *Collection {
	return &Collection{
		name:       name,
		maxItems:   maxItems,
		items:      make(map[string]Item),
		holdsTypes: make(map[string]int),
		logger:     logger,
	}
}

// Name returns the collection name ("devices", "diagnostics").
func (c *Collection) Name() string { return c.name }

// Len returns the current item count.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// MaxItems returns the configured capacity.
func (c *Collection) MaxItems() int { return c.maxItems }

// Add inserts or replaces an item. A replaced item keeps its position in
// the eviction order; a new item evicts the oldest entries first when the
// collection is full.
func (c *Collection) Add(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := item.ID()
	if _, exists := c.items[id]; exists {
		c.items[id] = item
		return
	}
	for len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[id] = item
	c.ageOrder = append(c.ageOrder, id)
	c.holdsTypes[item.TypeName()]++
	c.logger.Debug("added item", zap.String("collection", c.name), zap.String("id", id))
}

// Get returns the item with the given id, or nil.
func (c *Collection) Get(id string) Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[id]
}

// Clear drops all items and counters. Clearing an empty collection is a
// no-op.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Item)
	c.ageOrder = nil
	c.holdsTypes = make(map[string]int)
}

// IDs returns a snapshot of the item ids in insertion order.
func (c *Collection) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.ageOrder...)
}

// ContainedTypes returns the type names currently held.
func (c *Collection) ContainedTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]string, 0, len(c.holdsTypes))
	for name := range c.holdsTypes {
		types = append(types, name)
	}
	return types
}

func (c *Collection) evictOldest() {
	if len(c.ageOrder) == 0 {
		return
	}
	oldest := c.ageOrder[0]
	c.ageOrder = c.ageOrder[1:]
	if item, ok := c.items[oldest]; ok {
		if n := c.holdsTypes[item.TypeName()]; n <= 1 {
			delete(c.holdsTypes, item.TypeName())
		} else {
			c.holdsTypes[item.TypeName()] = n - 1
		}
		delete(c.items, oldest)
	}
	evictionsTotal.WithLabelValues(c.name).Inc()
	c.logger.Debug("evicted oldest item", zap.String("collection", c.name), zap.String("id", oldest))
}

// attributesWithTs renders the filtered attribute map plus the created and,
// when different, updated timestamps.
func attributesWithTs(item Item, keys FieldSet) map[string]any {
	attrs := keys.Apply(item.Attributes())
	attrs["created"] = item.Created().Format(time.RFC3339)
	if !item.Updated().Equal(item.Created()) {
		attrs["updated"] = item.Updated().Format(time.RFC3339)
	}
	return attrs
}

type jsonAPIItem struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

type metaCollection struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit,omitempty"`
	Total  int `json:"total"`
}

// ToJSONAPI renders the whole collection as a json:api document. fields
// filters items by type and attributes by key; a nil filter admits
// everything.
func (c *Collection) ToJSONAPI(fields Fields) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data := make([]jsonAPIItem, 0, len(c.items))
	for _, id := range c.ageOrder {
		item, ok := c.items[id]
		if !ok {
			continue
		}
		keys, admitted := fields.KeysFor(item.TypeName())
		if !admitted {
			continue
		}
		data = append(data, jsonAPIItem{Type: item.TypeName(), ID: item.ID(), Attributes: attributesWithTs(item, keys)})
	}
	doc := map[string]any{
		"data": data,
		"meta": map[string]any{
			"collection": metaCollection{Offset: 0, Limit: c.maxItems, Total: len(c.items)},
		},
	}
	return json.Marshal(doc)
}

// ToJSONAPIItem renders one item as a json:api document. The second return
// is false when the item is missing or its type is filtered out.
func (c *Collection) ToJSONAPIItem(id string, fields Fields) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return nil, false
	}
	keys, admitted := fields.KeysFor(item.TypeName())
	if !admitted {
		return nil, false
	}
	doc := map[string]any{
		"data": jsonAPIItem{Type: item.TypeName(), ID: item.ID(), Attributes: attributesWithTs(item, keys)},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	return b, true
}

// ToPlainJSON renders the items as a bare JSON array without the json:api
// envelope.
func (c *Collection) ToPlainJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data := make([]map[string]any, 0, len(c.items))
	for _, id := range c.ageOrder {
		item, ok := c.items[id]
		if !ok {
			continue
		}
		data = append(data, attributesWithTs(item, nil))
	}
	return json.Marshal(data)
}

// ToPlainJSONItem renders one item without the json:api envelope.
func (c *Collection) ToPlainJSONItem(id string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(attributesWithTs(item, nil))
	if err != nil {
		return nil, false
	}
	return b, true
}
