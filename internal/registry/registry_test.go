package registry_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ensemblechat/ensemble/internal/model"
	"github.com/ensemblechat/ensemble/internal/registry"
)

func newTestRegistry() *registry.Registry {
	return registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func strPtr(s string) *string   { return &s }
func boolPtr(b bool) *bool      { return &b }
func f32Ptr(f float32) *float32 { return &f }

func TestUpdatePartialPatch(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Add(model.Bot{
		ID:          "alpha",
		Name:        "Alpha",
		Model:       "gemini-2.0-flash",
		Temperature: 0.7,
		SystemPrompt: "You are Alpha.",
		Enabled:     true,
	})

	r.Update("alpha", model.BotPatch{
		Name:        strPtr("Alpha v2"),
		Temperature: f32Ptr(1.2),
	})

	got, ok := r.Get("alpha")
	if !ok {
		t.Fatal("bot alpha missing after update")
	}
	if got.Name != "Alpha v2" {
		t.Errorf("Name = %q, want %q", got.Name, "Alpha v2")
	}
	if got.Temperature != 1.2 {
		t.Errorf("Temperature = %v, want 1.2", got.Temperature)
	}
	// Unpatched fields keep their prior values.
	if got.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q, want unchanged", got.Model)
	}
	if got.SystemPrompt != "You are Alpha." {
		t.Errorf("SystemPrompt = %q, want unchanged", got.SystemPrompt)
	}
	if !got.Enabled {
		t.Error("Enabled should remain true")
	}
}

func TestUpdateUnknownBotIsNoOp(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Update("ghost", model.BotPatch{Name: strPtr("nope")})

	if _, ok := r.Get("ghost"); ok {
		t.Error("updating an unknown bot must not create it")
	}
}

func TestSnapshotSkipsDanglingIDs(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Add(model.Bot{ID: "a", Name: "A", Enabled: true})
	r.Add(model.Bot{ID: "b", Name: "B", Enabled: true})

	snap := r.Snapshot([]string{"a", "missing", "b"})
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	if snap[0].ID != "a" || snap[1].ID != "b" {
		t.Errorf("snapshot order = [%s, %s], want [a, b]", snap[0].ID, snap[1].ID)
	}
}

func TestSnapshotSkipsDisabledBots(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Add(model.Bot{ID: "a", Name: "A", Enabled: true})
	r.Add(model.Bot{ID: "b", Name: "B", Enabled: false})
	r.Add(model.Bot{ID: "c", Name: "C", Enabled: true})

	snap := r.Snapshot([]string{"a", "b", "c"})
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "c" {
		t.Fatalf("snapshot = %v, want the enabled bots [a, c]", snap)
	}

	// Re-enabling brings the bot back without touching the id list.
	r.Update("b", model.BotPatch{Enabled: boolPtr(true)})
	if snap := r.Snapshot([]string{"a", "b", "c"}); len(snap) != 3 {
		t.Errorf("snapshot length after re-enable = %d, want 3", len(snap))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Add(model.Bot{ID: "a", Name: "A", Enabled: true})

	snap := r.Snapshot([]string{"a"})
	snap[0].Name = "mutated"

	got, _ := r.Get("a")
	if got.Name != "A" {
		t.Error("mutating a snapshot must not affect the registry")
	}
}

func TestRemoveAndSetAvailableBots(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Add(model.Bot{ID: "a"})
	r.Add(model.Bot{ID: "b"})
	r.Remove("a")

	if _, ok := r.Get("a"); ok {
		t.Error("bot a should be removed")
	}

	r.SetAvailableBots([]model.Bot{{ID: "x"}, {ID: "y"}})
	all := r.All()
	if len(all) != 2 || all[0].ID != "x" || all[1].ID != "y" {
		t.Errorf("All() after SetAvailableBots = %v, want [x, y]", all)
	}
}

func TestChangeListener(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	type event struct {
		kind registry.ChangeKind
		id   string
	}
	var events []event
	r.AddListener(func(kind registry.ChangeKind, bot model.Bot) {
		events = append(events, event{kind, bot.ID})
	})

	r.Add(model.Bot{ID: "a"})
	r.Update("a", model.BotPatch{Enabled: boolPtr(true)})
	r.Remove("a")

	want := []event{
		{registry.ChangeUpserted, "a"},
		{registry.ChangeUpserted, "a"},
		{registry.ChangeRemoved, "a"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e != want[i] {
			t.Errorf("event %d = %v, want %v", i, e, want[i])
		}
	}
}
