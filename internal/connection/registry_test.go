package connection

import (
	"reflect"
	"sync"
	"testing"
)

func TestRegistry_OneRawSubscriptionPerEvent(t *testing.T) {
	r := newRegistry(nil, nil)
	tr := newFakeTransport("http://a.test")
	r.bind(tr)

	var mu sync.Mutex
	calls := map[string]int{}
	r.add("typing", func(Event) { mu.Lock(); calls["first"]++; mu.Unlock() })
	r.add("typing", func(Event) { mu.Lock(); calls["second"]++; mu.Unlock() })

	if got := tr.subscriptions("typing"); got != 1 {
		t.Fatalf("raw subscriptions = %d, want 1", got)
	}

	tr.deliver("typing", `{"to":"me"}`)

	if calls["first"] != 1 || calls["second"] != 1 {
		t.Errorf("calls = %v, want each listener once", calls)
	}
}

func TestRegistry_ReplaysOnBind(t *testing.T) {
	r := newRegistry(nil, nil)
	r.add("a", func(Event) {})
	r.add("a", func(Event) {})
	r.add("b", func(Event) {})

	first := newFakeTransport("http://one.test")
	r.bind(first)
	if first.subscriptions("a") != 1 || first.subscriptions("b") != 1 {
		t.Errorf("first transport subscriptions a=%d b=%d, want 1 each", first.subscriptions("a"), first.subscriptions("b"))
	}

	r.unbind()
	second := newFakeTransport("http://two.test")
	r.bind(second)
	if second.subscriptions("a") != 1 || second.subscriptions("b") != 1 {
		t.Errorf("second transport subscriptions a=%d b=%d, want 1 each", second.subscriptions("a"), second.subscriptions("b"))
	}

	if got := r.events(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("events() = %v", got)
	}
}

func TestRegistry_RemoveLastDropsSubscription(t *testing.T) {
	r := newRegistry(nil, nil)
	tr := newFakeTransport("http://a.test")
	r.bind(tr)

	first := r.add("news", func(Event) {})
	second := r.add("news", func(Event) {})

	if !r.remove("news", first) {
		t.Fatal("remove(first) = false")
	}
	if tr.offCalls["news"] != 0 {
		t.Error("subscription dropped while a listener remains")
	}
	if r.count("news") != 1 {
		t.Errorf("count = %d, want 1", r.count("news"))
	}

	r.remove("news", second)
	if tr.offCalls["news"] != 1 {
		t.Errorf("Off calls = %d, want 1", tr.offCalls["news"])
	}
	if r.remove("news", second) {
		t.Error("removing twice should report false")
	}

	// A new listener subscribes again.
	r.add("news", func(Event) {})
	if tr.subscriptions("news") != 2 {
		t.Errorf("raw subscriptions = %d, want 2", tr.subscriptions("news"))
	}
}

func TestRegistry_RemoveAll(t *testing.T) {
	r := newRegistry(nil, nil)
	tr := newFakeTransport("http://a.test")
	r.bind(tr)

	r.add("news", func(Event) {})
	r.add("news", func(Event) {})

	if n := r.removeAll("news"); n != 2 {
		t.Errorf("removeAll = %d, want 2", n)
	}
	if tr.offCalls["news"] != 1 {
		t.Errorf("Off calls = %d, want 1", tr.offCalls["news"])
	}
	if r.removeAll("news") != 0 {
		t.Error("second removeAll should remove nothing")
	}
}

func TestRegistry_PrepareRunsOncePerRawEvent(t *testing.T) {
	prepared := 0
	r := newRegistry(func(ev Event) (Event, bool) {
		prepared++
		return ev, string(ev.Data) != `"drop"`
	}, nil)
	tr := newFakeTransport("http://a.test")
	r.bind(tr)

	delivered := 0
	r.add("x", func(Event) { delivered++ })
	r.add("x", func(Event) { delivered++ })

	tr.deliver("x", `"keep"`)
	tr.deliver("x", `"drop"`)

	if prepared != 2 {
		t.Errorf("prepare ran %d times, want 2", prepared)
	}
	if delivered != 2 {
		t.Errorf("delivered %d, want 2", delivered)
	}
}
