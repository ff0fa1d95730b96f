package idgen

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Unique(t *testing.T) {
	Init(1)

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := NextID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8*500)
}

func TestNew_InvalidWorker(t *testing.T) {
	_, err := New(-1)
	assert.ErrorIs(t, err, ErrInvalidWorkerID)
	_, err = New(maxWorkerID + 1)
	assert.ErrorIs(t, err, ErrInvalidWorkerID)
}

func TestGenerate_ClockMovedBack(t *testing.T) {
	g, err := New(3)
	require.NoError(t, err)

	clock := epoch + 10_000
	g.now = func() int64 { return clock }

	first, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, int64(3), (first>>workerIDShift)&maxWorkerID)

	clock -= 1000
	_, err = g.Generate()
	assert.True(t, errors.Is(err, ErrClockMovedBack))
}

func TestGenerate_SequenceWithinMillisecond(t *testing.T) {
	g, err := New(0)
	require.NoError(t, err)
	g.now = func() int64 { return epoch + 1 }

	a, err := g.Generate()
	require.NoError(t, err)
	b, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, a+1, b)
}

func TestBusinessNumbers(t *testing.T) {
	assert.True(t, strings.HasPrefix(GeneratePurchaseNo(), "PUR"))
	assert.True(t, strings.HasPrefix(GenerateEntryNo(), "LED"))
	assert.True(t, strings.HasPrefix(GenerateReversalNo(), "REV"))
	assert.Len(t, GeneratePurchaseNo(), 3+8+19)
}
