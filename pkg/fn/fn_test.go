package fn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultBasics(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Fatal("Ok result reported as error")
	}
	v, err := ok.Unwrap()
	if err != nil || v != 42 {
		t.Fatalf("Unwrap = (%v, %v), want (42, nil)", v, err)
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() || !bad.IsErr() {
		t.Fatal("Err result reported as ok")
	}
	if got := bad.UnwrapOr(7); got != 7 {
		t.Fatalf("UnwrapOr = %d, want 7", got)
	}
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("Unwrap err = %v, want %v", err, boom)
	}
}

func TestErrWithNilError(t *testing.T) {
	r := Err[string](nil)
	if r.IsOk() {
		t.Fatal("Err(nil) must still report as failed")
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair("x", nil); r.IsErr() {
		t.Fatal("FromPair with nil error must be ok")
	}
	boom := errors.New("boom")
	if _, err := FromPair(0, boom).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestSliceHelpers(t *testing.T) {
	t.Run("Map", func(t *testing.T) {
		got := Map([]int{1, 2, 3}, func(n int) string { return fmt.Sprintf("#%d", n) })
		if len(got) != 3 || got[1] != "#2" {
			t.Fatalf("Map = %v", got)
		}
		if Map(nil, func(n int) int { return n }) != nil {
			t.Fatal("Map(nil) must stay nil")
		}
	})
	t.Run("Filter", func(t *testing.T) {
		got := Filter([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
		if len(got) != 2 || got[0] != 2 {
			t.Fatalf("Filter = %v", got)
		}
	})
	t.Run("UniqueBy", func(t *testing.T) {
		type p struct{ id, n int }
		got := UniqueBy([]p{{1, 10}, {2, 20}, {1, 30}}, func(v p) int { return v.id })
		if len(got) != 2 || got[0].n != 10 {
			t.Fatalf("UniqueBy = %v", got)
		}
	})
}

func TestParMapPreservesOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	out := ParMap(items, 8, func(n int) int {
		time.Sleep(time.Duration(50-n) * time.Millisecond / 10)
		return n * n
	})
	for i, v := range out {
		if v != i*i {
			t.Fatalf("out[%d] = %d, want %d", i, v, i*i)
		}
	}
}

func TestParMapBoundsWorkers(t *testing.T) {
	var active, peak int64
	items := make([]int, 20)
	ParMap(items, 4, func(int) int {
		cur := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return 0
	})
	if peak > 4 {
		t.Fatalf("observed %d concurrent workers, want <= 4", peak)
	}
}

func TestParMapEmpty(t *testing.T) {
	out := ParMap([]int{}, 4, func(n int) int { return n })
	if len(out) != 0 {
		t.Fatalf("out = %v", out)
	}
}

func TestSettleMapIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	keys := []string{"a", "b", "c"}
	out := SettleMap(context.Background(), keys, 3, func(_ context.Context, k string) Result[string] {
		if k == "b" {
			// The slow failure must not block or poison the other keys.
			time.Sleep(20 * time.Millisecond)
			return Err[string](boom)
		}
		return Ok("got " + k)
	})
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if v, err := out["a"].Unwrap(); err != nil || v != "got a" {
		t.Fatalf("out[a] = (%q, %v)", v, err)
	}
	if _, err := out["b"].Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("out[b] err = %v, want %v", err, boom)
	}
	if v, _ := out["c"].Unwrap(); v != "got c" {
		t.Fatalf("out[c] = %q", v)
	}
}

func TestSettleMapCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := SettleMap(ctx, []int{1, 2}, 2, func(context.Context, int) Result[int] {
		return Ok(0)
	})
	for k, r := range out {
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Fatalf("key %d: err = %v, want context.Canceled", k, err)
		}
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	opts := RetryOpts{MaxAttempts: 4, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		attempts++
		if attempts < 3 {
			return Errf[string]("attempt %d failed", attempts)
		}
		return Ok("done")
	})
	if v, err := r.Unwrap(); err != nil || v != "done" {
		t.Fatalf("Retry = (%q, %v)", v, err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	opts := RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		return Err[int](errors.New("always"))
	})
	if r.IsOk() {
		t.Fatal("Retry should return the last error when attempts run out")
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOpts{MaxAttempts: 10, InitialWait: time.Hour, MaxWait: time.Hour}
	done := make(chan Result[int])
	go func() {
		done <- Retry(ctx, opts, func(context.Context) Result[int] {
			return Err[int](errors.New("nope"))
		})
	}()
	cancel()
	select {
	case r := <-done:
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	opts := RetryOpts{InitialWait: 10 * time.Millisecond, MaxWait: 35 * time.Millisecond}
	waits := []time.Duration{opts.backoff(1), opts.backoff(2), opts.backoff(3)}
	if waits[0] != 10*time.Millisecond || waits[1] != 20*time.Millisecond {
		t.Fatalf("waits = %v", waits)
	}
	if waits[2] != 35*time.Millisecond {
		t.Fatalf("third wait = %v, want the cap", waits[2])
	}
}
