package profiler

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestTickReportsOncePerInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	p := NewProfiler(WithClock(clock.now), WithInterval(time.Second))

	for i := 0; i < 29; i++ {
		clock.advance(time.Second / 60)
		if s := p.Tick(); s != nil {
			t.Fatalf("expected no report at frame %d", i)
		}
	}
	clock.advance(time.Second / 2)
	s := p.Tick()
	if s == nil {
		t.Fatal("expected a report once the interval elapsed")
	}
	// 30 frames over 29/60 + 1/2 seconds
	want := 30 / (29.0/60.0 + 0.5)
	if s.FPS < want-0.01 || s.FPS > want+0.01 {
		t.Errorf("expected fps %f, got %f", want, s.FPS)
	}
	if s.SysMB <= 0 {
		t.Errorf("expected positive sys memory, got %f", s.SysMB)
	}

	clock.advance(time.Second / 60)
	if s := p.Tick(); s != nil {
		t.Error("expected the interval to restart after a report")
	}
}

func TestTickPatchCounter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	calls := 0
	p := NewProfiler(WithClock(clock.now), WithPatchCounter(func() (uint32, []uint32, bool, error) {
		calls++
		return 42, []uint32{30, 10, 2}, true, nil
	}))

	p.Tick()
	if calls != 0 {
		t.Errorf("expected no patch read before the interval, got %d", calls)
	}
	clock.advance(2 * time.Second)
	s := p.Tick()
	if s == nil {
		t.Fatal("expected a report")
	}
	if calls != 1 {
		t.Errorf("expected 1 patch read, got %d", calls)
	}
	if s.Patches != 42 || len(s.PerLOD) != 3 || !s.Saturated {
		t.Errorf("expected 42 saturated patches over 3 levels, got %+v", s)
	}
}

func TestTickPatchCounterError(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewProfiler(WithClock(clock.now), WithPatchCounter(func() (uint32, []uint32, bool, error) {
		return 0, nil, false, errors.New("device lost")
	}))
	clock.advance(time.Second)
	s := p.Tick()
	if s == nil {
		t.Fatal("expected a report despite the counter error")
	}
	if s.Patches != 0 || s.PerLOD != nil {
		t.Errorf("expected empty patch stats, got %+v", s)
	}
}

func TestTickPatchCounterPending(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	calls := 0
	p := NewProfiler(WithClock(clock.now), WithPatchCounter(func() (uint32, []uint32, bool, error) {
		calls++
		if calls == 1 {
			return 0, nil, false, ErrPatchCountPending
		}
		return 7, []uint32{7}, false, nil
	}))

	clock.advance(time.Second)
	if s := p.Tick(); s == nil || s.Patches != 0 || s.PerLOD != nil {
		t.Errorf("expected a report without patches while pending, got %+v", s)
	}
	clock.advance(time.Second)
	if s := p.Tick(); s == nil || s.Patches != 7 {
		t.Errorf("expected the next interval to report 7 patches, got %+v", s)
	}
}
