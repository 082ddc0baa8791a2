package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/collection"
	"github.com/danisheto/anc/internal/models"
	"github.com/danisheto/anc/internal/pipeline"
	"github.com/danisheto/anc/internal/testutil"
	"github.com/danisheto/anc/internal/workspace"
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

const basicCard = `---
deck: example
type: basic
---
Question
---
Answer
`

type recorder struct {
	mu      sync.Mutex
	reports []pipeline.Report
}

func (r *recorder) Notify(rep pipeline.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

// newService builds a project from files and a private collection with an
// "example" deck.
func newService(t *testing.T, files map[string]string, opts ...pipeline.Option) (*pipeline.Service, string) {
	t.Helper()
	root := testutil.Project(t, files)
	colPath := testutil.CopyBaseline(t, baseline, t.TempDir())

	col, err := collection.Open(colPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := col.AddDeck(context.Background(), "example"); err != nil {
		t.Fatal(err)
	}
	col.Close()

	project, err := workspace.Find(root)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]pipeline.Option{pipeline.WithCollection(colPath)}, opts...)
	return pipeline.NewService(project, opts...), colPath
}

func noteCount(t *testing.T, path string) int {
	t.Helper()
	col, err := collection.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer col.Close()
	n, err := col.NoteCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestSave_NewCard(t *testing.T) {
	svc, colPath := newService(t, map[string]string{"basic.qz": basicCard})

	rep, err := svc.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if diff := cmp.Diff([]models.DeckResult{{Name: "example", Added: 1}}, rep.Decks); diff != "" {
		t.Errorf("decks mismatch (-want +got):\n%s", diff)
	}
	if rep.Status != pipeline.StatusOK || rep.Sources != 1 || rep.Cards != 1 {
		t.Errorf("report = %+v", rep)
	}
	if got := pipeline.FormatResults(rep.Decks); got != "1 added and 0 updated to example" {
		t.Errorf("output = %q", got)
	}
	if n := noteCount(t, colPath); n != 1 {
		t.Errorf("NoteCount = %d, want 1", n)
	}
}

func TestSave_RerunReportsNothing(t *testing.T) {
	svc, _ := newService(t, map[string]string{"basic.qz": basicCard})
	ctx := context.Background()

	if _, err := svc.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rep, err := svc.Save(ctx)
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if got := pipeline.FormatResults(rep.Decks); got != pipeline.NothingChanged {
		t.Errorf("output = %q, want %q", got, pipeline.NothingChanged)
	}
}

func TestSave_BadFileFailsWholeRun(t *testing.T) {
	svc, colPath := newService(t, map[string]string{
		"good.qz": basicCard,
		"bad.qz":  "---\ndeck: example\n---\nQuestion\n",
	})

	rep, err := svc.Save(context.Background())
	var errs apperr.ParseErrors
	if !errors.As(err, &errs) {
		t.Fatalf("err = %v, want ParseErrors", err)
	}
	if rep.Status != pipeline.StatusParseError {
		t.Errorf("status = %q", rep.Status)
	}
	if len(rep.Errors) != 1 || !strings.HasPrefix(rep.Errors[0], "bad.qz: ") {
		t.Errorf("errors = %q, want one line for bad.qz", rep.Errors)
	}
	if n := noteCount(t, colPath); n != 0 {
		t.Errorf("NoteCount = %d, want 0", n)
	}
}

func TestSave_MissingBackFailsWholeRun(t *testing.T) {
	svc, colPath := newService(t, map[string]string{
		"good.qz": basicCard,
		"bad.qz":  "---\ndeck: example\ntype: basic\n---\nQuestion only\n",
	})

	rep, err := svc.Save(context.Background())
	if !errors.Is(err, apperr.ErrNoCards) {
		t.Fatalf("err = %v, want ErrNoCards", err)
	}
	if rep.Status != pipeline.StatusSaveError || !strings.Contains(strings.Join(rep.Errors, "\n"), "bad.qz") {
		t.Errorf("report = %+v, want a reconcile error naming bad.qz", rep)
	}
	if n := noteCount(t, colPath); n != 0 {
		t.Errorf("NoteCount = %d, want 0", n)
	}
}

func TestSave_UnknownModel(t *testing.T) {
	svc, colPath := newService(t, map[string]string{
		"good.qz": basicCard,
		"bad.qz":  "---\ndeck: example\ntype: nonexistent\nid: explicit\n---\nQ\n---\nA\n",
	})
	rep, err := svc.Save(context.Background())
	if !errors.Is(err, apperr.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
	if rep.Status != pipeline.StatusSaveError {
		t.Errorf("Status = %q, want %q", rep.Status, pipeline.StatusSaveError)
	}
	if len(rep.Errors) != 1 || !strings.Contains(rep.Errors[0], "bad.qz") {
		t.Errorf("Errors = %q, want one line naming bad.qz", rep.Errors)
	}
	if n := noteCount(t, colPath); n != 0 {
		t.Errorf("NoteCount = %d, want 0", n)
	}
}

func TestSave_NoCollection(t *testing.T) {
	root := testutil.Project(t, map[string]string{"basic.qz": basicCard})
	project, _ := workspace.Find(root)

	_, err := pipeline.NewService(project).Save(context.Background())
	if !errors.Is(err, apperr.ErrNoAnkiDir) {
		t.Errorf("err = %v, want ErrNoAnkiDir", err)
	}

	missing := filepath.Join(t.TempDir(), "collection.anki2")
	_, err = pipeline.NewService(project, pipeline.WithCollection(missing)).Save(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
	if _, statErr := os.Stat(missing); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("Save must not create a collection file")
	}
}

func TestSave_UsesHook(t *testing.T) {
	svc, colPath := newService(t, map[string]string{
		"a.qz": "ignored by the hook",
		".anc/hooks/pre-parse": "#!/bin/sh\ncat > /dev/null\n" +
			"printf -- '---\\ndeck: example\\ntype: basic\\nid: from-hook\\n---\\nQ\\n---\\nA\\n'\n",
	})
	if err := os.Chmod(filepath.Join(svc.Project().HooksDir(), "pre-parse"), 0o755); err != nil {
		t.Fatal(err)
	}

	rep, err := svc.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rep.Decks[0].Added != 1 {
		t.Errorf("decks = %+v", rep.Decks)
	}
	col, _ := collection.Open(colPath)
	defer col.Close()
	ids, _ := col.NoteIDs(context.Background())
	note, _ := col.Note(context.Background(), ids[0])
	if note.Fields[0] != "from-hook" {
		t.Errorf("identity = %q, want %q", note.Fields[0], "from-hook")
	}
}

func TestCheck_DoesNotTouchCollection(t *testing.T) {
	rec := &recorder{}
	svc, colPath := newService(t, map[string]string{"basic.qz": basicCard}, pipeline.WithNotifier(rec))

	rep, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Kind != pipeline.KindCheck || rep.Cards != 1 {
		t.Errorf("report = %+v", rep)
	}
	if n := noteCount(t, colPath); n != 0 {
		t.Errorf("NoteCount = %d, want 0", n)
	}
	if len(rec.reports) != 1 || rec.reports[0].Kind != pipeline.KindCheck {
		t.Errorf("published = %+v", rec.reports)
	}
	if last := svc.Last(); last == nil || last.Kind != pipeline.KindCheck {
		t.Errorf("Last = %+v", last)
	}
}

func TestCheckContent(t *testing.T) {
	decks, err := pipeline.CheckContent("draft.qz", basicCard)
	if err != nil {
		t.Fatalf("CheckContent: %v", err)
	}
	if decks[0].Groups[0].Cards[0].ID() != "draft.qz#1" {
		t.Errorf("decks = %+v", decks)
	}
}
