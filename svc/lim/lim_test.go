package lim

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeMarker struct {
	seen map[string]bool
	err  error
}

func (m *fakeMarker) MarkPost(_ context.Context, key string, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func TestFloodLocal(t *testing.T) {
	f := NewFlood(10*time.Second, nil)
	now := time.Now()
	f.now = func() time.Time { return now }
	ctx := context.Background()

	if !f.Allow(ctx, "a") {
		t.Fatal("first post rejected")
	}
	if f.Allow(ctx, "a") {
		t.Fatal("second post inside window allowed")
	}
	if !f.Allow(ctx, "b") {
		t.Fatal("other client rejected")
	}
	now = now.Add(10 * time.Second)
	if !f.Allow(ctx, "a") {
		t.Fatal("post after window rejected")
	}
	now = now.Add(20 * time.Second)
	if n := f.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
}

func TestFloodDisabled(t *testing.T) {
	f := NewFlood(0, nil)
	for i := 0; i < 3; i++ {
		if !f.Allow(context.Background(), "a") {
			t.Fatal("disabled flood check rejected a post")
		}
	}
}

func TestFloodShared(t *testing.T) {
	m := &fakeMarker{seen: map[string]bool{}}
	f := NewFlood(time.Minute, m)
	ctx := context.Background()
	if !f.Allow(ctx, "a") || f.Allow(ctx, "a") {
		t.Fatal("shared marker not consulted")
	}
	m.err = errors.New("redis down")
	if !f.Allow(ctx, "c") {
		t.Fatal("fallback rejected first post")
	}
	if f.Allow(ctx, "c") {
		t.Fatal("fallback allowed second post")
	}
}

type fakeCounter struct {
	hits map[string]int
	err  error
}

func (c *fakeCounter) RateLimit(_ context.Context, key string, limit int, _ time.Duration) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.hits[key] >= limit {
		return c.hits[key] + 1, nil
	}
	c.hits[key]++
	return c.hits[key], nil
}

func TestLimiterLocal(t *testing.T) {
	l := New(60, 2, 1, nil, nil)
	defer l.Stop()
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "10.1.1.1:1234"
	for i := 0; i < 2; i++ {
		if res := l.CheckLimit(r, "create"); !res.Allowed {
			t.Fatalf("request %d rejected", i)
		}
	}
	if res := l.CheckLimit(r, "create"); res.Allowed {
		t.Fatal("burst exceeded but allowed")
	}
	if res := l.CheckLimit(r, "get"); !res.Allowed {
		t.Fatal("separate endpoint shares bucket")
	}
}

func TestLimiterShared(t *testing.T) {
	c := &fakeCounter{hits: map[string]int{}}
	l := New(2, 2, 1, c, nil)
	defer l.Stop()
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "10.1.1.2:1234"
	if !l.CheckLimit(r, "create").Allowed || !l.CheckLimit(r, "create").Allowed {
		t.Fatal("requests within limit rejected")
	}
	if l.CheckLimit(r, "create").Allowed {
		t.Fatal("request over limit allowed")
	}

	c.err = errors.New("down")
	r.RemoteAddr = "10.1.1.3:1234"
	if !l.CheckLimit(r, "create").Allowed {
		t.Fatal("conservative fallback rejected first request")
	}
	if l.CheckLimit(r, "create").Allowed {
		t.Fatal("conservative fallback allowed burst")
	}
}

func TestAdaptiveMode(t *testing.T) {
	l := New(60, 4, 1, nil, nil)
	defer l.Stop()
	for i := 0; i < 20; i++ {
		l.RecordRequest()
		l.RecordError()
	}
	l.detector.AdvanceWindow()
	if !l.isAdaptiveMode() {
		t.Fatal("high error rate did not trigger adaptive mode")
	}
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.9.9.9:1"
	allowed := 0
	for i := 0; i < 4; i++ {
		if l.CheckLimit(r, "get").Allowed {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("adaptive burst allowed %d, want 2", allowed)
	}
}

func TestAnomalyDetectorQuiet(t *testing.T) {
	fired := false
	d := NewAnomalyDetector(func() { fired = true })
	for i := 0; i < 100; i++ {
		d.RecordRequest()
	}
	d.RecordError()
	if rate := d.ErrorRate(); rate != 1 {
		t.Errorf("ErrorRate = %v", rate)
	}
	d.AdvanceWindow()
	if fired {
		t.Error("anomaly fired below threshold")
	}
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		xff     string
		proxies []string
		want    string
	}{
		{"no proxies ignores header", "1.2.3.4:80", "9.9.9.9", nil, "1.2.3.4"},
		{"untrusted remote", "1.2.3.4:80", "9.9.9.9", []string{"10.0.0.1"}, "1.2.3.4"},
		{"trusted remote", "10.0.0.1:80", "9.9.9.9", []string{"10.0.0.1"}, "9.9.9.9"},
		{"chain of proxies", "10.0.0.1:80", "9.9.9.9, 10.0.0.2", []string{"10.0.0.0/8"}, "9.9.9.9"},
		{"spoofed left entry", "10.0.0.1:80", "6.6.6.6, 9.9.9.9", []string{"10.0.0.1"}, "9.9.9.9"},
		{"garbage skipped", "10.0.0.1:80", "9.9.9.9, junk", []string{"10.0.0.1"}, "9.9.9.9"},
		{"all trusted", "10.0.0.1:80", "10.0.0.2", []string{"10.0.0.0/8"}, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetRealIP(r, tt.proxies); got != tt.want {
				t.Errorf("GetRealIP = %q, want %q", got, tt.want)
			}
		})
	}
}
