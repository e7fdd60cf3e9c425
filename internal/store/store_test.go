package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
)

func TestFileStoreLoadMissingReturnsEmptyDocumentWithDefaults(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	data, err := st.Load(context.Background(), "unseen-machine")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if data.MachineID != "unseen-machine" {
		t.Fatalf("MachineID = %q, want unseen-machine", data.MachineID)
	}
	if data.Providers == nil || data.ModelAliases == nil {
		t.Fatalf("expected non-nil Providers/ModelAliases maps on a fresh document")
	}
	if data.Settings.FallbackStrategy != model.StrategyFillFirst {
		t.Fatalf("Settings.FallbackStrategy = %v, want the default", data.Settings.FallbackStrategy)
	}
}

func TestFileStoreSaveThenLoadRoundtrips(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()
	data := &model.MachineData{
		MachineID: "m1",
		Providers: map[string]*model.ProviderConnection{
			"a": {ID: "a", Provider: "openai", APIKey: "secret"},
		},
		ModelAliases: map[string]string{"fast": "openai/gpt-4o-mini"},
	}
	if err := st.Save(ctx, data); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := st.Load(ctx, "m1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Providers["a"].APIKey != "secret" {
		t.Fatalf("Providers[a].APIKey = %q, want secret", got.Providers["a"].APIKey)
	}
	if got.ModelAliases["fast"] != "openai/gpt-4o-mini" {
		t.Fatalf("ModelAliases[fast] = %q", got.ModelAliases["fast"])
	}
}

func TestFileStoreSaveRejectsEmptyMachineID(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := st.Save(context.Background(), &model.MachineData{}); err == nil {
		t.Fatalf("Save() error = nil, want an error for an empty machine id")
	}
}

func TestFileStoreSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := st.Save(context.Background(), &model.MachineData{MachineID: "m1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("found leftover temp files after Save(): %v", matches)
	}
}

func TestFileStoreLocksAreShardedPerMachine(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	a := st.locks.forMachine("machine-a")
	b := st.locks.forMachine("machine-b")
	if a == b {
		t.Fatalf("forMachine() returned the same lock for two different machine ids")
	}

	a.Lock()
	defer a.Unlock()

	done := make(chan struct{})
	go func() {
		// Must not block on machine-a's lock: a distinct machine's Load
		// should never contend with it.
		_, _ = st.Load(context.Background(), "machine-b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Load() for machine-b blocked on machine-a's lock")
	}
}
