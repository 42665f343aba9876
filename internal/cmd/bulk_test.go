package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBulkOperation_Success(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	var calls atomic.Int32

	results := runBulkOperation(context.Background(), ids, 5, false, nil,
		func(ctx context.Context, id string) (string, error) {
			calls.Add(1)
			return "ok:" + id, nil
		})

	assert.Equal(t, int32(5), calls.Load())
	ok, failed := countResults(results)
	assert.Equal(t, 5, ok)
	assert.Equal(t, 0, failed)
	assert.NoError(t, firstError(results))
}

func TestRunBulkOperation_PartialFailure(t *testing.T) {
	ids := []string{"a", "b", "c"}
	boom := errors.New("failed")

	results := runBulkOperation(context.Background(), ids, 5, false, nil,
		func(ctx context.Context, id string) (string, error) {
			if id == "b" {
				return "", boom
			}
			return "ok", nil
		})

	require.Len(t, results, 3)
	ok, failed := countResults(results)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "failed", results[1].Error)
	assert.ErrorIs(t, firstError(results), boom)
}

func TestRunBulkOperation_PreservesInputOrder(t *testing.T) {
	ids := []string{"slow", "medium", "fast"}
	delays := map[string]time.Duration{"slow": 30 * time.Millisecond, "medium": 15 * time.Millisecond}

	results := runBulkOperation(context.Background(), ids, 3, false, nil,
		func(ctx context.Context, id string) (string, error) {
			time.Sleep(delays[id])
			return id, nil
		})

	require.Len(t, results, 3)
	for i, id := range ids {
		assert.Equal(t, id, results[i].ID)
	}
}

func TestRunBulkOperation_RespectsConcurrency(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5", "6"}
	var active, peak atomic.Int32

	runBulkOperation(context.Background(), ids, 2, false, nil,
		func(ctx context.Context, id string) (struct{}, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return struct{}{}, nil
		})

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunBulkOperation_Progress(t *testing.T) {
	var errOut bytes.Buffer
	runBulkOperation(context.Background(), []string{"a", "b"}, 1, true, &errOut,
		func(ctx context.Context, id string) (string, error) { return id, nil })

	assert.True(t, strings.Contains(errOut.String(), "Processed 2/2"), errOut.String())
}

func TestRunBulkOperation_SingleItemNoProgress(t *testing.T) {
	var errOut bytes.Buffer
	runBulkOperation(context.Background(), []string{"a"}, 1, true, &errOut,
		func(ctx context.Context, id string) (string, error) { return id, nil })

	assert.Empty(t, errOut.String())
}
