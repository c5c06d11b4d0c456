package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestEventLoopRunsPostsInOrder(t *testing.T) {
	tests := []struct {
		name  string
		posts int
	}{
		{name: "few", posts: 3},
		{name: "more than a burst", posts: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loop := NewEventLoop()
			var got []int
			// Posted before Run so nothing drains while the backlog builds.
			for i := 0; i < tt.posts; i++ {
				loop.Post(func() { got = append(got, i) })
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			go loop.Run(ctx)

			var n int
			if err := loop.Call(ctx, func() { n = len(got) }); err != nil {
				t.Fatalf("Call: %v", err)
			}
			if n != tt.posts {
				t.Fatalf("ran %d posts, want %d", n, tt.posts)
			}
			for i, v := range got {
				if v != i {
					t.Fatalf("post %d ran at position %d", v, i)
				}
			}
		})
	}
}

func TestEventLoopPostFromLoopRunsAfterQueuedWork(t *testing.T) {
	loop := NewEventLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	loop.Post(func() {
		got = append(got, "a")
		loop.Post(func() { got = append(got, "c") })
	})
	loop.Post(func() { got = append(got, "b") })
	go loop.Run(ctx)

	var seen []string
	if err := loop.Call(ctx, func() {}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := loop.Call(ctx, func() { seen = append(seen, got...) }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestEventLoopDropsPostsAfterStop(t *testing.T) {
	loop := NewEventLoop()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	if err := loop.Call(context.Background(), func() {}); err == nil {
		t.Fatal("Call after Run returned should fail")
	}
}
