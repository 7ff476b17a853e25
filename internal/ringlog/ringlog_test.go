package ringlog_test

import (
	"testing"
	"time"

	"github.com/fynet/fyusenet/internal/ringlog"
)

func TestPushWithinCapacity(t *testing.T) {
	r := ringlog.New(4)
	r.Push(1, 10*time.Millisecond)
	r.Push(2, 20*time.Millisecond)

	got := r.Samples()
	if len(got) != 2 {
		t.Fatalf("Samples: have %d want 2", len(got))
	}
	if got[0].Layer != 1 || got[1].Layer != 2 {
		t.Fatalf("Samples order: have %+v want [layer1 layer2]", got)
	}
}

func TestPushPastCapacityOverwritesOldest(t *testing.T) {
	r := ringlog.New(2)
	r.Push(1, time.Millisecond)
	r.Push(2, time.Millisecond)
	r.Push(3, time.Millisecond)

	got := r.Samples()
	if len(got) != 2 {
		t.Fatalf("Samples: have %d want 2", len(got))
	}
	if got[0].Layer != 2 || got[1].Layer != 3 {
		t.Fatalf("Samples after overwrite: have %+v want [layer2 layer3]", got)
	}
}

func TestReset(t *testing.T) {
	r := ringlog.New(4)
	r.Push(1, time.Millisecond)
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len after Reset: have %d want 0", r.Len())
	}
	r.Push(2, time.Millisecond)
	got := r.Samples()
	if len(got) != 1 || got[0].Layer != 2 {
		t.Fatalf("Samples after Reset+Push: have %+v want [layer2]", got)
	}
}
