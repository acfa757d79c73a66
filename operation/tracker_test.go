package operation

import (
	"fmt"
	"sync"
	"testing"
)

func TestTokenCancelIdempotent(t *testing.T) {
	token := &Token{}
	if token.Cancelled() {
		t.Fatal("fresh token must not be cancelled")
	}
	token.Cancel()
	token.Cancel()
	if !token.Cancelled() {
		t.Fatal("token not cancelled after Cancel")
	}
}

func TestCancelAbsent(t *testing.T) {
	tr := NewTracker()
	if tr.Cancel("nope", "op-1") {
		t.Fatal("cancelling an unknown session must return false")
	}
	tr.Start("s1", "op-1")
	if tr.Cancel("s1", "other") {
		t.Fatal("cancelling an unknown operation must return false")
	}
	if !tr.HasActive("s1") {
		t.Fatal("failed cancel must not remove the live operation")
	}
}

func TestCancelSingle(t *testing.T) {
	tr := NewTracker()
	token := tr.Start("s1", "op-1")
	if !tr.Cancel("s1", "op-1") {
		t.Fatal("cancel of a live operation must return true")
	}
	if !token.Cancelled() {
		t.Fatal("token flag not flipped")
	}
	if tr.HasActive("s1") {
		t.Fatal("cancelled operation still tracked")
	}
	if tr.Cancel("s1", "op-1") {
		t.Fatal("second cancel of the same operation must return false")
	}
}

func TestCancelAll(t *testing.T) {
	tr := NewTracker()
	var tokens []*Token
	for i := 0; i < 5; i++ {
		tokens = append(tokens, tr.Start("s1", fmt.Sprintf("op-%d", i)))
	}
	other := tr.Start("s2", "op-x")

	if !tr.Cancel("s1", "") {
		t.Fatal("cancel-all with live operations must return true")
	}
	for i, token := range tokens {
		if !token.Cancelled() {
			t.Fatalf("operation %d not cancelled", i)
		}
	}
	if tr.HasActive("s1") {
		t.Fatal("session still has tracked operations after cancel-all")
	}
	if other.Cancelled() || !tr.HasActive("s2") {
		t.Fatal("cancel-all must not cross session boundaries")
	}
}

func TestCompleteAfterCancel(t *testing.T) {
	tr := NewTracker()
	tr.Start("s1", "op-1")
	tr.Cancel("s1", "op-1")
	tr.Complete("s1", "op-1") // entry already gone, must not panic
	if tr.HasActive("s1") {
		t.Fatal("session should be empty")
	}
}

func TestCompleteRemovesEntry(t *testing.T) {
	tr := NewTracker()
	tr.Start("s1", "op-1")
	tr.Complete("s1", "op-1")
	if tr.HasActive("s1") {
		t.Fatal("completed operation still tracked")
	}
	if tr.Cancel("s1", "op-1") {
		t.Fatal("cancel after completion must return false")
	}
}

func TestConcurrentStartCancel(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("op-%d", n)
			tr.Start("s1", id)
			tr.Cancel("s1", id)
		}(i)
	}
	wg.Wait()
	if tr.HasActive("s1") {
		t.Fatal("all operations were cancelled, none should remain")
	}
}
