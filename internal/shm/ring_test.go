package shm

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRing(t *testing.T, capacity uint64) *Ring {
	t.Helper()
	r, err := CreateFile(filepath.Join(t.TempDir(), "ring"), capacity)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRingFrameTooLarge(t *testing.T) {
	r := testRing(t, 256)

	err := r.Push(make([]byte, 300))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Push(300 bytes) error = %v, want ErrFrameTooLarge", err)
	}
}

func TestRingFillAndDrain(t *testing.T) {
	// Each 10-byte payload frames to 11 bytes, so ten frames fill the
	// ring exactly.
	r := testRing(t, 110)

	var want [][]byte
	for i := 0; i < 10; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 10)
		if err := r.Push(payload); err != nil {
			t.Fatalf("Push #%d failed: %v", i, err)
		}
		want = append(want, payload)
	}

	if err := r.Push(make([]byte, 10)); err != ErrWouldBlock {
		t.Errorf("Push on full ring error = %v, want ErrWouldBlock", err)
	}

	got, ok := r.Pop()
	if !ok {
		t.Fatal("Pop on full ring returned empty")
	}
	if !bytes.Equal(got, want[0]) {
		t.Errorf("first pop = %x, want %x", got, want[0])
	}

	if err := r.Push(bytes.Repeat([]byte{0xFF}, 10)); err != nil {
		t.Errorf("Push after one pop failed: %v", err)
	}

	for i := 1; i < 10; i++ {
		got, ok := r.Pop()
		if !ok {
			t.Fatalf("Pop #%d returned empty", i)
		}
		if !bytes.Equal(got, want[i]) {
			t.Errorf("pop #%d = %x, want %x", i, got, want[i])
		}
	}

	got, ok = r.Pop()
	if !ok || !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 10)) {
		t.Errorf("final pop = (%x, %v), want the refill frame", got, ok)
	}

	if _, ok := r.Pop(); ok {
		t.Error("Pop on empty ring returned a frame")
	}
}

func TestRingWrapAround(t *testing.T) {
	// Frames are 10 bytes including the length prefix. After three pushes
	// and two pops the fourth push spans the capacity boundary.
	r := testRing(t, 32)

	frames := make([][]byte, 4)
	for i := range frames {
		frames[i] = bytes.Repeat([]byte{byte(0xA0 + i)}, 9)
	}

	for i := 0; i < 3; i++ {
		if err := r.Push(frames[i]); err != nil {
			t.Fatalf("Push #%d failed: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		got, ok := r.Pop()
		if !ok || !bytes.Equal(got, frames[i]) {
			t.Fatalf("pop #%d = (%x, %v), want %x", i, got, ok, frames[i])
		}
	}

	if err := r.Push(frames[3]); err != nil {
		t.Fatalf("wrapping push failed: %v", err)
	}

	for i := 2; i < 4; i++ {
		got, ok := r.Pop()
		if !ok {
			t.Fatalf("pop #%d returned empty", i)
		}
		if !bytes.Equal(got, frames[i]) {
			t.Errorf("pop #%d = %x, want %x", i, got, frames[i])
		}
	}
}

func TestRingRandomInterleaving(t *testing.T) {
	const capacity = 4096
	r := testRing(t, capacity)

	var pushed, popped [][]byte
	for i := 0; i < 10_000; i++ {
		if rand.Intn(2) == 0 {
			payload := make([]byte, rand.Intn(capacity/2))
			for j := range payload {
				payload[j] = byte(rand.Uint32())
			}
			if err := r.Push(payload); err == nil {
				pushed = append(pushed, payload)
			} else if !errors.Is(err, ErrWouldBlock) {
				t.Fatalf("Push failed: %v", err)
			}
		} else {
			if payload, ok := r.Pop(); ok {
				popped = append(popped, payload)
			}
		}
	}
	for {
		payload, ok := r.Pop()
		if !ok {
			break
		}
		popped = append(popped, payload)
	}

	if len(pushed) != len(popped) {
		t.Fatalf("pushed %d frames, popped %d", len(pushed), len(popped))
	}
	for i := range pushed {
		if !bytes.Equal(pushed[i], popped[i]) {
			t.Fatalf("frame #%d mismatch: pushed %x, popped %x", i, pushed[i], popped[i])
		}
	}
}

func TestRingProducerConsumer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")

	producer, err := CreateFile(path, 1<<12)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	defer producer.Close()

	consumer, err := AttachFile(path)
	if err != nil {
		t.Fatalf("AttachFile failed: %v", err)
	}
	defer consumer.Close()

	const frames = 50_000
	done := make(chan error, 1)

	go func() {
		for i := 0; i < frames; {
			payload := []byte(fmt.Sprintf("frame-%d", i))
			if err := producer.Push(payload); err != nil {
				if errors.Is(err, ErrWouldBlock) {
					time.Sleep(time.Microsecond)
					continue
				}
				done <- err
				return
			}
			i++
		}
		done <- nil
	}()

	deadline := time.Now().Add(30 * time.Second)
	for i := 0; i < frames; {
		payload, ok := consumer.Pop()
		if !ok {
			if time.Now().After(deadline) {
				t.Fatalf("timed out after %d frames", i)
			}
			continue
		}
		if want := fmt.Sprintf("frame-%d", i); string(payload) != want {
			t.Fatalf("frame #%d = %q, want %q", i, payload, want)
		}
		i++
	}

	if err := <-done; err != nil {
		t.Fatalf("producer failed: %v", err)
	}
}

func TestAttachValidatesLayout(t *testing.T) {
	dir := t.TempDir()

	if _, err := AttachFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("AttachFile on missing file succeeded")
	}

	short := filepath.Join(dir, "short")
	if err := os.WriteFile(short, make([]byte, 8), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := AttachFile(short); !errors.Is(err, ErrLayoutMismatch) {
		t.Errorf("AttachFile on short file error = %v, want ErrLayoutMismatch", err)
	}

	// Corrupt the recorded capacity so it disagrees with the file size.
	path := filepath.Join(dir, "corrupt")
	r, err := CreateFile(path, 128)
	if err != nil {
		t.Fatal(err)
	}
	r.mem[0] = 0x55
	r.Close()

	if _, err := AttachFile(path); !errors.Is(err, ErrLayoutMismatch) {
		t.Errorf("AttachFile on corrupt file error = %v, want ErrLayoutMismatch", err)
	}
}

func TestCreateZeroCapacity(t *testing.T) {
	if _, err := CreateFile(filepath.Join(t.TempDir(), "ring"), 0); !errors.Is(err, ErrLayoutMismatch) {
		t.Errorf("CreateFile(0) error = %v, want ErrLayoutMismatch", err)
	}
}
