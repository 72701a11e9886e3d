package ocr

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores recognitions keyed by a hash of the region pixels.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (Recognition, bool)
	Set(key string, r Recognition)
}

// MemoryCache is an in-process Cache with a size cap and per-entry TTL.
// When full, the least recently used entry is evicted; expired entries are
// dropped in the background.
type MemoryCache struct {
	lru *expirable.LRU[string, Recognition]
}

func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{lru: expirable.NewLRU[string, Recognition](maxSize, nil, ttl)}
}

func (c *MemoryCache) Get(key string) (Recognition, bool) {
	return c.lru.Get(key)
}

func (c *MemoryCache) Set(key string, r Recognition) {
	c.lru.Add(key, r)
}

// Len returns the number of stored entries, expired ones not yet swept
// included.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// ImageKey hashes the bounds and pixel values of img with SHA-256.
func ImageKey(img image.Image) string {
	h := sha256.New()
	b := img.Bounds()
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(buf[4:], uint32(b.Dy()))
	h.Write(buf[:])

	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			h.Write(g.Pix[off : off+b.Dx()])
		}
		return hex.EncodeToString(h.Sum(nil))
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			binary.BigEndian.PutUint16(buf[0:], uint16(r))
			binary.BigEndian.PutUint16(buf[2:], uint16(g))
			binary.BigEndian.PutUint16(buf[4:], uint16(bl))
			binary.BigEndian.PutUint16(buf[6:], uint16(a))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
