package engine

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// RandomSource yields uniformly distributed floats in [0, 1).
// Implementations used from more than one goroutine must be safe for concurrent use.
type RandomSource interface {
	Float64() float64
}

// Seeds identifies a reproducible random stream.
type Seeds struct {
	Server string `json:"server"` // ASCII; do NOT hex-decode
	Client string `json:"client"`
}

// ByteGenerator generates bytes using HMAC-SHA256
// for streaming approach to float generation
type ByteGenerator struct {
	serverSeed   string
	clientSeed   string
	nonce        uint64
	currentRound uint64
	currentPos   int
	buffer       [32]byte
}

// NewByteGenerator creates a new byte generator with the given parameters
func NewByteGenerator(serverSeed, clientSeed string, nonce uint64, cursor uint64) *ByteGenerator {
	bg := &ByteGenerator{
		serverSeed:   serverSeed,
		clientSeed:   clientSeed,
		nonce:        nonce,
		currentRound: cursor / 32,
		currentPos:   int(cursor % 32),
	}

	// Always generate the initial round
	bg.generateRound()

	return bg
}

// Next returns the next byte from the generator
func (bg *ByteGenerator) Next() byte {
	if bg.currentPos >= 32 {
		bg.currentRound++
		bg.currentPos = 0
		bg.generateRound()
	}

	b := bg.buffer[bg.currentPos]
	bg.currentPos++
	return b
}

// NextFloat generates the next float using exactly 4 bytes
func (bg *ByteGenerator) NextFloat() float64 {
	b0 := bg.Next()
	b1 := bg.Next()
	b2 := bg.Next()
	b3 := bg.Next()

	return bytesToFloat([4]byte{b0, b1, b2, b3})
}

func (bg *ByteGenerator) generateRound() {
	h := hmac.New(sha256.New, []byte(bg.serverSeed))
	message := fmt.Sprintf("%s:%d:%d", bg.clientSeed, bg.nonce, bg.currentRound)
	h.Write([]byte(message))
	copy(bg.buffer[:], h.Sum(nil))
}

// bytesToFloat converts exactly 4 bytes to float64: b0/256 + b1/256² + b2/256³ + b3/256⁴
func bytesToFloat(bytes [4]byte) float64 {
	result := 0.0
	for i, b := range bytes {
		divider := math.Pow(256, float64(i+1))
		result += float64(b) / divider
	}
	return result
}

// Floats generates the specified number of floats starting from the given cursor
func Floats(serverSeed, clientSeed string, nonce uint64, cursor uint64, count int) []float64 {
	bg := NewByteGenerator(serverSeed, clientSeed, nonce, cursor)
	floats := make([]float64, count)

	for i := 0; i < count; i++ {
		floats[i] = bg.NextFloat()
	}

	return floats
}

// FloatsInto fills the provided slice with floats, avoiding allocation
func FloatsInto(dst []float64, serverSeed, clientSeed string, nonce uint64, cursor uint64, count int) []float64 {
	if len(dst) < count {
		dst = make([]float64, count)
	}

	bg := NewByteGenerator(serverSeed, clientSeed, nonce, cursor)

	for i := 0; i < count; i++ {
		dst[i] = bg.NextFloat()
	}

	return dst[:count]
}

// SeededSource is a RandomSource backed by the HMAC byte stream of a seed pair and nonce.
// The same seeds and nonce always replay the same sequence.
type SeededSource struct {
	mu sync.Mutex
	bg *ByteGenerator
}

// NewSeededSource creates a reproducible source positioned at cursor 0.
func NewSeededSource(seeds Seeds, nonce uint64) *SeededSource {
	return &SeededSource{bg: NewByteGenerator(seeds.Server, seeds.Client, nonce, 0)}
}

// Float64 returns the next float of the stream.
func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bg.NextFloat()
}

// CryptoSource draws from crypto/rand. It is safe for concurrent use.
type CryptoSource struct{}

// NewCryptoSource returns the default production source.
func NewCryptoSource() CryptoSource {
	return CryptoSource{}
}

// Float64 returns 53 random bits scaled into [0, 1).
func (CryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(fmt.Sprintf("crypto/rand read failed: %v", err))
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// SequenceSource replays a fixed list of floats, wrapping around at the end.
// It is meant for deterministic tests and replays of recorded floats.
type SequenceSource struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

// NewSequenceSource creates a source over values. An empty list always yields 0.
func NewSequenceSource(values ...float64) *SequenceSource {
	copied := make([]float64, len(values))
	copy(copied, values)
	return &SequenceSource{values: copied}
}

// Float64 returns the next recorded value.
func (s *SequenceSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}
