package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestNewNodeRejectsOutOfRange(t *testing.T) {
	for _, node := range []int64{-1, nodeMax + 1} {
		if _, err := NewNode(node); err == nil {
			t.Errorf("NewNode(%d) succeeded, want error", node)
		}
	}
}

func TestGenerateStrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(Epoch + 5000)
	n, err := NewNode(7, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatal(err)
	}

	// More than one millisecond's worth of steps on a frozen clock.
	var prev int64
	for i := 0; i < stepMask+10; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d at iteration %d not greater than previous %d", id, i, prev)
		}
		prev = id
	}
}

func TestGenerateClockBackwards(t *testing.T) {
	now := time.UnixMilli(Epoch + 10_000)
	n, _ := NewNode(1, WithClock(func() time.Time { return now }))

	first := n.Generate()
	now = now.Add(-time.Second)
	second := n.Generate()
	if second <= first {
		t.Fatalf("id after clock regression %d not greater than %d", second, first)
	}
}

func TestTimeAndNodeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n, _ := NewNode(42, WithClock(func() time.Time { return at }))
	id := n.Generate()

	if got := Time(id); !got.Equal(at) {
		t.Errorf("Time(id) = %v, want %v", got, at)
	}
	if got := NodeOf(id); got != 42 {
		t.Errorf("NodeOf(id) = %d, want 42", got)
	}
}

func TestGenerateConcurrentUnique(t *testing.T) {
	n, _ := NewNode(3)
	const workers, perWorker = 8, 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, n.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
}
