package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateString(t *testing.T) {
	gen := NewGenerator()

	id := gen.GenerateString()

	if len(id) != 26 {
		t.Errorf("ULID should be 26 characters, got %d", len(id))
	}
}

func TestTypedIDFormat(t *testing.T) {
	ids := map[string]string{
		HandlePrefix: string(NewHandleID()),
		RoutePrefix:  string(NewRouteID()),
	}

	for prefix, id := range ids {
		parts := strings.Split(id, "_")
		if len(parts) != 2 {
			t.Errorf("ID should have format 'prefix_ulid', got: %s", id)
			continue
		}
		if parts[0] != prefix {
			t.Errorf("Expected prefix '%s', got '%s' in ID: %s", prefix, parts[0], id)
		}
		if _, err := ulid.Parse(parts[1]); err != nil {
			t.Errorf("ULID part should be valid: %s", parts[1])
		}
	}
}

func TestBridgeID(t *testing.T) {
	a := NewBridgeID()
	b := NewBridgeID()

	if a == b {
		t.Error("Bridge IDs should be unique")
	}
	if !IsBridgeID(a.String()) {
		t.Errorf("Bridge ID should be a UUID, got: %s", a)
	}
	if IsBridgeID("page-1") {
		t.Error("page-1 should not be a valid bridge id")
	}
}

func TestCommonHandleIDs(t *testing.T) {
	bridge := BridgeID("0b0e3c1e-5a43-4b1c-9d55-3a3f1f2e8c11")
	common := CommonHandleIDs(bridge)

	if common.Page != "page-0b0e3c1e-5a43-4b1c-9d55-3a3f1f2e8c11" {
		t.Errorf("unexpected page handle id: %s", common.Page)
	}
	if common.Context != "context-0b0e3c1e-5a43-4b1c-9d55-3a3f1f2e8c11" {
		t.Errorf("unexpected context handle id: %s", common.Context)
	}
	if CommonHandleIDs(bridge) != common {
		t.Error("common handle ids should be deterministic")
	}
}

func TestGeneratedTimestamp(t *testing.T) {
	gen := NewGenerator()

	before := time.Now()
	generated := gen.Generate()
	after := time.Now()

	ts := ulid.Time(generated.Time())
	if ts.UnixMilli() < before.UnixMilli() || ts.UnixMilli() > after.UnixMilli() {
		t.Errorf("Timestamp should be between %d and %d ms, got %d ms",
			before.UnixMilli(), after.UnixMilli(), ts.UnixMilli())
	}
}

func TestConcurrentGeneration(t *testing.T) {
	const goroutines = 50
	const idsPerGoroutine = 100

	var wg sync.WaitGroup
	idChan := make(chan HandleID, goroutines*idsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				idChan <- NewHandleID()
			}
		}()
	}

	wg.Wait()
	close(idChan)

	seen := make(map[HandleID]bool)
	for id := range idChan {
		if seen[id] {
			t.Errorf("Duplicate ID found in concurrent generation: %s", id)
		}
		seen[id] = true
	}

	if len(seen) != goroutines*idsPerGoroutine {
		t.Errorf("Expected %d unique IDs, got %d", goroutines*idsPerGoroutine, len(seen))
	}
}
