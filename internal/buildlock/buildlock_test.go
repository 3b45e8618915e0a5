package buildlock

import "testing"

func TestTryAcquireSerializesBuilds(t *testing.T) {
	lock := New()

	release, ok := lock.TryAcquire()
	if !ok {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if !lock.InProgress() {
		t.Error("expected InProgress true while held")
	}

	if _, ok := lock.TryAcquire(); ok {
		t.Error("expected second concurrent TryAcquire to fail (busy)")
	}

	release()
	if lock.InProgress() {
		t.Error("expected InProgress false after release")
	}

	if _, ok := lock.TryAcquire(); !ok {
		t.Error("expected TryAcquire to succeed after release")
	}
}
