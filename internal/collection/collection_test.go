package collection_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/collection"
	"github.com/danisheto/anc/internal/models"
	"github.com/danisheto/anc/internal/testutil"
)

var baseline string

func TestMain(m *testing.M) {
	path, cleanup, err := testutil.Baseline()
	if err != nil {
		fmt.Fprintln(os.Stderr, "baseline:", err)
		os.Exit(1)
	}
	baseline = path
	code := m.Run()
	cleanup()
	os.Exit(code)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() func() time.Time { return func() time.Time { return fixedNow } }

func insert(t *testing.T, col *collection.Collection, id int64, mid int64, fields string, identity string) {
	t.Helper()
	n, err := col.InsertRecord(context.Background(), models.NewRecord{
		ID: id, GUID: fmt.Sprintf("guid%d", id), ModelID: mid,
		Mod: fixedNow.Unix(), Tags: " ", Fields: fields, Identity: identity,
	})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if n != 1 {
		t.Fatalf("affected = %d, want 1", n)
	}
}

func TestCreate_Seeded(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)

	names, err := col.DeckNames(ctx)
	if err != nil {
		t.Fatalf("DeckNames: %v", err)
	}
	if diff := cmp.Diff([]string{collection.DefaultDeck}, names); diff != "" {
		t.Errorf("decks mismatch (-want +got):\n%s", diff)
	}

	for _, m := range []collection.Model{collection.BasicModel, collection.ClozeModel} {
		_, count, err := col.ResolveModel(ctx, m.Name)
		if err != nil {
			t.Fatalf("ResolveModel(%q): %v", m.Name, err)
		}
		if count != len(m.Fields) {
			t.Errorf("field count of %s = %d, want %d", m.Name, count, len(m.Fields))
		}
	}
	usn, err := col.USN(ctx)
	if err != nil || usn != 0 {
		t.Errorf("USN = %d, %v; want 0", usn, err)
	}
}

func TestResolveModel(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)

	id, _, err := col.ResolveModel(ctx, "BASIC")
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if id == 0 {
		t.Error("expected a model id")
	}
	if _, _, err := col.ResolveModel(ctx, "nope"); !errors.Is(err, apperr.ErrUnknownModel) {
		t.Errorf("err = %v, want ErrUnknownModel", err)
	}
}

func TestFindByIdentity(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)
	mid, _, _ := col.ResolveModel(ctx, "basic")
	insert(t, col, 10, mid, "card-a\x1fQ\x1fA", "card-a")
	insert(t, col, 11, mid, "solo", "solo")

	got, err := col.FindByIdentity(ctx, "card-a")
	if err != nil {
		t.Fatalf("FindByIdentity: %v", err)
	}
	want := &models.ExistingNote{ID: 10, Fields: "card-a\x1fQ\x1fA", Tags: " "}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("note mismatch (-want +got):\n%s", diff)
	}

	if got, _ := col.FindByIdentity(ctx, "solo"); got == nil || got.ID != 11 {
		t.Errorf("single-field note not found: %+v", got)
	}
	if got, _ := col.FindByIdentity(ctx, "card"); got != nil {
		t.Errorf("prefix matched note %d", got.ID)
	}
	if got, _ := col.FindByIdentity(ctx, "CARD-A"); got != nil {
		t.Errorf("case-sensitive lookup matched note %d", got.ID)
	}
}

func TestFindByIdentity_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline, collection.WithCaseInsensitiveMatch())
	mid, _, _ := col.ResolveModel(ctx, "basic")
	insert(t, col, 10, mid, "card-a\x1fQ\x1fA", "card-a")

	got, err := col.FindByIdentity(ctx, "CARD-A")
	if err != nil {
		t.Fatalf("FindByIdentity: %v", err)
	}
	if got == nil || got.ID != 10 {
		t.Errorf("got %+v, want note 10", got)
	}
}

func TestInsertRecord_DuplicateIgnored(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)
	mid, _, _ := col.ResolveModel(ctx, "basic")
	insert(t, col, 10, mid, "a\x1fQ\x1fA", "a")

	n, err := col.InsertRecord(ctx, models.NewRecord{ID: 10, GUID: "other", ModelID: mid, Tags: " ", Fields: "b", Identity: "b"})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if n != 0 {
		t.Errorf("affected = %d, want 0 for a duplicate id", n)
	}
	maxID, _ := col.MaxRecordID(ctx)
	if maxID != 10 {
		t.Errorf("MaxRecordID = %d, want 10", maxID)
	}
}

func TestUpdateRecord(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)
	mid, _, _ := col.ResolveModel(ctx, "basic")
	insert(t, col, 10, mid, "a\x1fQ\x1fA", "a")

	n, err := col.UpdateRecord(ctx, models.RecordUpdate{ID: 10, Mod: 99, USN: 3, Tags: " x ", Fields: "a\x1fQ2\x1fA", Identity: "a"})
	if err != nil || n != 1 {
		t.Fatalf("UpdateRecord = %d, %v", n, err)
	}
	note, err := col.Note(ctx, 10)
	if err != nil {
		t.Fatalf("Note: %v", err)
	}
	if note.Mod != 99 || note.USN != 3 || note.Tags != " x " {
		t.Errorf("note = %+v", note)
	}
	if diff := cmp.Diff([]string{"a", "Q2", "A"}, note.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	if n, _ := col.UpdateRecord(ctx, models.RecordUpdate{ID: 404, Identity: "x"}); n != 0 {
		t.Errorf("affected = %d, want 0 for a missing note", n)
	}
}

func TestResolveDeckAndKind(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)
	fid, err := col.AddFilteredDeck(ctx, "Filtered")
	if err != nil {
		t.Fatalf("AddFilteredDeck: %v", err)
	}

	id, err := col.ResolveDeck(ctx, "default")
	if err != nil {
		t.Fatalf("ResolveDeck: %v", err)
	}
	kind, _ := col.DeckKind(ctx, id)
	if kind.Filtered || kind.ConfigID != 1 {
		t.Errorf("Default kind = %+v", kind)
	}
	kind, _ = col.DeckKind(ctx, fid)
	if !kind.Filtered {
		t.Errorf("Filtered kind = %+v", kind)
	}
	if _, err := col.ResolveDeck(ctx, "missing"); !errors.Is(err, apperr.ErrUnknownDeck) {
		t.Errorf("err = %v, want ErrUnknownDeck", err)
	}
}

func TestSetLastWriter(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline, collection.WithClock(clock()))
	mid, _, _ := col.ResolveModel(ctx, "basic")
	did, _ := col.AddDeck(ctx, "lang")

	if err := col.SetLastWriter(ctx, mid, did); err != nil {
		t.Fatalf("SetLastWriter: %v", err)
	}
	if err := col.SetLastWriter(ctx, mid, did); err != nil {
		t.Fatalf("SetLastWriter twice: %v", err)
	}
	got, err := col.LastDeck(ctx, mid)
	if err != nil {
		t.Fatalf("LastDeck: %v", err)
	}
	if got != did {
		t.Errorf("last deck = %d, want %d", got, did)
	}
}

func TestNotifyChanged_GeneratesCards(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline, collection.WithClock(clock()))
	basic, _, _ := col.ResolveModel(ctx, "basic")
	cloze, _, _ := col.ResolveModel(ctx, "cloze")
	did, _ := col.AddDeck(ctx, "lang")
	_ = col.SetLastWriter(ctx, basic, did)
	_ = col.SetLastWriter(ctx, cloze, did)

	insert(t, col, 10, basic, "b\x1fQ\x1fA", "b")
	insert(t, col, 11, cloze, "c\x1f{{c1::x}} {{c3::y}} {{c1::z}}\x1f", "c")

	if err := col.NotifyChanged(ctx, []int64{10, 11}); err != nil {
		t.Fatalf("NotifyChanged: %v", err)
	}
	cards, _ := col.Cards(ctx, 11)
	var ords []int
	for _, c := range cards {
		ords = append(ords, c.Ord)
		if c.DeckID != did {
			t.Errorf("card %d in deck %d, want %d", c.ID, c.DeckID, did)
		}
	}
	if diff := cmp.Diff([]int{0, 2}, ords); diff != "" {
		t.Errorf("cloze ords mismatch (-want +got):\n%s", diff)
	}
	if n, _ := col.CardCount(ctx, "lang"); n != 3 {
		t.Errorf("CardCount = %d, want 3", n)
	}

	// Generation is idempotent.
	if err := col.NotifyChanged(ctx, []int64{10, 11}); err != nil {
		t.Fatalf("NotifyChanged again: %v", err)
	}
	if n, _ := col.CardCount(ctx, "lang"); n != 3 {
		t.Errorf("CardCount after second run = %d, want 3", n)
	}
}

func TestNotifyChanged_NoCards(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)
	basic, _, _ := col.ResolveModel(ctx, "basic")
	cloze, _, _ := col.ResolveModel(ctx, "cloze")

	tests := []struct {
		name   string
		mid    int64
		fields string
	}{
		{"basic missing back", basic, "x\x1fQ\x1f"},
		{"basic blank front", basic, "x\x1f  \x1fA"},
		{"cloze without deletions", cloze, "x\x1fplain text\x1f"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := int64(100 + i)
			insert(t, col, id, tt.mid, tt.fields, fmt.Sprintf("x%d", i))
			err := col.NotifyChanged(ctx, []int64{id})
			if !errors.Is(err, apperr.ErrNoCards) {
				t.Errorf("err = %v, want ErrNoCards", err)
			}
		})
	}
}

func TestResortIfRandom(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline,
		collection.WithClock(clock()),
		collection.WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	basic, _, _ := col.ResolveModel(ctx, "basic")
	did, _ := col.ResolveDeck(ctx, collection.DefaultDeck)
	var ids []int64
	for i := range 20 {
		id := int64(10 + i)
		insert(t, col, id, basic, fmt.Sprintf("n%d\x1fQ\x1fA", i), fmt.Sprintf("n%d", i))
		ids = append(ids, id)
	}
	if err := col.NotifyChanged(ctx, ids); err != nil {
		t.Fatalf("NotifyChanged: %v", err)
	}

	dues := func() []int64 {
		var out []int64
		for _, id := range ids {
			cards, _ := col.Cards(ctx, id)
			out = append(out, cards[0].Due)
		}
		return out
	}
	before := dues()

	// Due order leaves positions alone.
	if err := col.ResortIfRandom(ctx, did); err != nil {
		t.Fatalf("ResortIfRandom: %v", err)
	}
	if diff := cmp.Diff(before, dues()); diff != "" {
		t.Errorf("due order changed positions (-want +got):\n%s", diff)
	}

	if err := col.SetInsertOrder(ctx, collection.DefaultDeck, models.NewCardOrderRandom); err != nil {
		t.Fatalf("SetInsertOrder: %v", err)
	}
	if err := col.ResortIfRandom(ctx, did); err != nil {
		t.Fatalf("ResortIfRandom: %v", err)
	}
	after := dues()
	if cmp.Equal(before, after) {
		t.Error("random order did not shuffle positions")
	}
	seen := make(map[int64]bool)
	for _, d := range after {
		seen[d] = true
	}
	for _, d := range before {
		if !seen[d] {
			t.Errorf("position %d lost by resort", d)
		}
	}
}

func TestResortIfRandom_FilteredDeck(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)
	fid, _ := col.AddFilteredDeck(ctx, "Filtered")
	if err := col.ResortIfRandom(ctx, fid); !errors.Is(err, apperr.ErrFilteredDeck) {
		t.Errorf("err = %v, want ErrFilteredDeck", err)
	}
}

func TestSavepoint_Rollback(t *testing.T) {
	ctx := context.Background()
	col := testutil.Collection(t, baseline)
	mid, _, _ := col.ResolveModel(ctx, "basic")

	if err := col.BeginSavepoint(ctx); err != nil {
		t.Fatalf("BeginSavepoint: %v", err)
	}
	insert(t, col, 10, mid, "a\x1fQ\x1fA", "a")
	if err := col.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if n, _ := col.NoteCount(ctx); n != 0 {
		t.Errorf("NoteCount = %d after rollback, want 0", n)
	}

	if err := col.BeginSavepoint(ctx); err != nil {
		t.Fatalf("BeginSavepoint: %v", err)
	}
	insert(t, col, 11, mid, "b\x1fQ\x1fA", "b")
	if err := col.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	path := col.Path()
	if err := col.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := collection.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.NoteCount(ctx); n != 1 {
		t.Errorf("NoteCount after reopen = %d, want 1", n)
	}
}
