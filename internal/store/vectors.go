package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// VectorRecord holds a cached embedding for a memory record.
type VectorRecord struct {
	MemoryID   string
	Embedding  []float64
	Model      string
	Dimensions int
	CreatedAt  int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveVector stores or replaces the embedding for a memory.
func (db *DB) SaveVector(memoryID string, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := db.Exec(`
		INSERT INTO memory_vectors (memory_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET embedding = ?, model = ?, dimensions = ?, created_at = ?
	`, memoryID, blob, model, len(embedding), now,
		blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector returns the embedding for a memory, or nil if not found.
func (db *DB) GetVector(memoryID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRow(`
		SELECT memory_id, embedding, model, dimensions, created_at
		FROM memory_vectors WHERE memory_id = ?
	`, memoryID).Scan(&v.MemoryID, &blob, &v.Model, &v.Dimensions, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// DeleteVector removes the embedding for a memory.
func (db *DB) DeleteVector(memoryID string) error {
	_, err := db.Exec("DELETE FROM memory_vectors WHERE memory_id = ?", memoryID)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

// VectorMap is an in-process vector cache with the same methods as DB,
// used when the durable backend cannot hold vectors.
type VectorMap struct {
	mu      sync.RWMutex
	vectors map[string]VectorRecord
}

func NewVectorMap() *VectorMap {
	return &VectorMap{vectors: make(map[string]VectorRecord)}
}

func (m *VectorMap) SaveVector(memoryID string, embedding []float64, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[memoryID] = VectorRecord{
		MemoryID:   memoryID,
		Embedding:  append([]float64(nil), embedding...),
		Model:      model,
		Dimensions: len(embedding),
		CreatedAt:  time.Now().UnixMilli(),
	}
	return nil
}

func (m *VectorMap) GetVector(memoryID string) (*VectorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vectors[memoryID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *VectorMap) DeleteVector(memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, memoryID)
	return nil
}
