package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloats(t *testing.T) {
	tests := []struct {
		name       string
		serverSeed string
		clientSeed string
		nonce      uint64
		cursor     uint64
		count      int
	}{
		{name: "single float", serverSeed: "test_server_seed", clientSeed: "test_client_seed", nonce: 1, count: 1},
		{name: "one plinko walk", serverSeed: "test_server_seed", clientSeed: "test_client_seed", nonce: 1, count: 16},
		{name: "cursor boundary", serverSeed: "test_server_seed", clientSeed: "test_client_seed", nonce: 1, cursor: 31, count: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			floats := Floats(tt.serverSeed, tt.clientSeed, tt.nonce, tt.cursor, tt.count)
			require.Len(t, floats, tt.count)
			for i, f := range floats {
				assert.GreaterOrEqual(t, f, 0.0, "float %d", i)
				assert.Less(t, f, 1.0, "float %d", i)
			}
		})
	}
}

func TestFloatsIntoReusesBuffer(t *testing.T) {
	dst := make([]float64, 10)
	got := FloatsInto(dst, "server", "client", 7, 0, 5)
	require.Len(t, got, 5)
	assert.Equal(t, Floats("server", "client", 7, 0, 5), got)

	small := make([]float64, 2)
	assert.Len(t, FloatsInto(small, "server", "client", 7, 0, 5), 5)
}

func TestBytesToFloat(t *testing.T) {
	tests := []struct {
		name     string
		bytes    [4]byte
		expected float64
	}{
		{name: "all zeros", bytes: [4]byte{0, 0, 0, 0}, expected: 0},
		{name: "first byte only", bytes: [4]byte{1, 0, 0, 0}, expected: 1.0 / 256.0},
		{name: "last byte only", bytes: [4]byte{0, 0, 0, 1}, expected: 1.0 / (256.0 * 256.0 * 256.0 * 256.0)},
		{
			name:     "half",
			bytes:    [4]byte{128, 0, 0, 0},
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, bytesToFloat(tt.bytes))
		})
	}

	assert.Less(t, bytesToFloat([4]byte{255, 255, 255, 255}), 1.0)
}

func TestSeededSourceReplays(t *testing.T) {
	seeds := Seeds{Server: "server", Client: "client"}
	a := NewSeededSource(seeds, 42)
	b := NewSeededSource(seeds, 42)

	expected := Floats(seeds.Server, seeds.Client, 42, 0, 20)
	for i := 0; i < 20; i++ {
		va, vb := a.Float64(), b.Float64()
		assert.Equal(t, va, vb)
		assert.Equal(t, expected[i], va)
	}

	other := NewSeededSource(seeds, 43)
	assert.NotEqual(t, Floats(seeds.Server, seeds.Client, 42, 0, 4), []float64{
		other.Float64(), other.Float64(), other.Float64(), other.Float64(),
	})
}

func TestCryptoSourceRange(t *testing.T) {
	src := NewCryptoSource()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				f := src.Float64()
				if f < 0 || f >= 1 {
					t.Errorf("crypto float out of range: %f", f)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSequenceSource(t *testing.T) {
	src := NewSequenceSource(0.1, 0.9)
	assert.Equal(t, 0.1, src.Float64())
	assert.Equal(t, 0.9, src.Float64())
	assert.Equal(t, 0.1, src.Float64())

	assert.Equal(t, 0.0, NewSequenceSource().Float64())
}
