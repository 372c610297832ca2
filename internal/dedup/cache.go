// Package dedup drops redelivered signaling messages within a bounded recency window.
package dedup

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultCapacity bounds the number of remembered keys per cache.
	DefaultCapacity = 200
	// MinCapacity is the smallest window accepted by New.
	MinCapacity = 16
)

// Key identifies one logical event. Identical keys are the same event.
type Key string

// NewKey derives a fixed-size key from the sender, its send time, the topic and any
// topic-specific discriminants (action, device, text, ...).
func NewKey(senderID string, sentAt time.Time, topic string, discriminants ...string) Key {
	var b strings.Builder
	b.WriteString(senderID)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(sentAt.UnixNano(), 10))
	b.WriteByte(0)
	b.WriteString(topic)
	for _, d := range discriminants {
		b.WriteByte(0)
		b.WriteString(d)
	}

	hash, _ := blake2b.New(16, nil)
	hash.Write([]byte(b.String()))
	return Key(hex.EncodeToString(hash.Sum(nil)))
}

// Cache is a bounded set of recently seen keys. The least recently seen key is evicted
// once capacity is exceeded. It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[Key, struct{}]
}

// New returns a cache holding at most capacity keys; non-positive capacity selects the
// default and small values are raised to MinCapacity.
func New(capacity int) *Cache {
	switch {
	case capacity <= 0:
		capacity = DefaultCapacity
	case capacity < MinCapacity:
		capacity = MinCapacity
	}
	entries, err := lru.New[Key, struct{}](capacity)
	if err != nil {
		panic("dedup: " + err.Error())
	}
	return &Cache{entries: entries}
}

// Observe records key and reports whether it is new. A false result means the message is
// a duplicate and must not be applied.
func (c *Cache) Observe(key Key) bool {
	found, _ := c.entries.ContainsOrAdd(key, struct{}{})
	return !found
}

// Seen reports whether key is in the window without touching its recency.
func (c *Cache) Seen(key Key) bool {
	return c.entries.Contains(key)
}

// Len returns the number of remembered keys.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Reset forgets every key.
func (c *Cache) Reset() {
	c.entries.Purge()
}
