package auth

import (
	"sync"
	"testing"
)

func TestSession_PublishesOnChange(t *testing.T) {
	s := NewSession(State{Token: "t"})

	var got []State
	unsubscribe := s.Subscribe(func(st State) { got = append(got, st) })

	s.SetUserID("42")
	s.SetUserID("42") // unchanged, no publish
	s.SetToken("t2")
	s.Clear()

	want := []State{
		{Token: "t", UserID: "42"},
		{Token: "t2", UserID: "42"},
		{},
	}
	if len(got) != len(want) {
		t.Fatalf("published %d states, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	unsubscribe()
	unsubscribe()
	s.SetToken("t3")
	if len(got) != len(want) {
		t.Error("unsubscribed listener should not be called")
	}
}

func TestSession_SubscribersInOrder(t *testing.T) {
	s := NewSession(State{})
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.Subscribe(func(State) { order = append(order, i) })
	}

	s.Set(State{Token: "x"})

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}

func TestSession_SubscriberMayReadState(t *testing.T) {
	s := NewSession(State{})
	var seen State
	s.Subscribe(func(State) { seen = s.Get() })

	s.SetToken("abc")

	if seen.Token != "abc" {
		t.Errorf("Get() inside subscriber = %+v, want token abc", seen)
	}
}

func TestSession_ConcurrentUpdates(t *testing.T) {
	s := NewSession(State{})
	var mu sync.Mutex
	calls := 0
	s.Subscribe(func(State) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetUserID(string(rune('a' + i%26)))
			_ = s.Get()
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one publish")
	}
}

func TestState_BearerHeader(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{State{}, ""},
		{State{Token: "  "}, ""},
		{State{Token: "abc"}, "Bearer abc"},
	}
	for _, tt := range tests {
		if got := tt.state.BearerHeader(); got != tt.want {
			t.Errorf("BearerHeader(%+v) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("short"); got != "***" {
		t.Errorf("MaskToken(short) = %q", got)
	}
	if got := MaskToken("abcdefgh12345678wxyz"); got != "abcdefgh...wxyz" {
		t.Errorf("MaskToken(long) = %q", got)
	}
}
