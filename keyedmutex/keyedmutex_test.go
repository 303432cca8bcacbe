// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package keyedmutex

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := NewMap()
	var active int32
	var sawOverlap bool

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			unlock, err := m.Lock(context.Background(), "owner/repo")
			if err != nil {
				t.Error(err)
				return
			}
			if atomic.AddInt32(&active, 1) > 1 {
				sawOverlap = true
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	if sawOverlap {
		t.Fatal("two holders of the same key lock ran concurrently")
	}
}

func TestLockDifferentKeysDoNotBlock(t *testing.T) {
	m := NewMap()
	unlockA, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("locking a different key should not block: %v", err)
	}
	unlockB()
}

func TestLockRespectsContextCancellation(t *testing.T) {
	m := NewMap()
	unlock, err := m.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "k"); err == nil {
		t.Fatal("expected context deadline error")
	}
}
