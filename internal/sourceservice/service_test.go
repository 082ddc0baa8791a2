package sourceservice

import (
	"context"
	"errors"
	"testing"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/checksum"
	"github.com/danisheto/anc/internal/testutil"
	"github.com/danisheto/anc/internal/workspace"
)

const card = "---\ndeck: example\ntype: basic\n---\nQ\n---\nA\n"

func newService(t *testing.T, files map[string]string) *Service {
	t.Helper()
	project, err := workspace.Find(testutil.Project(t, files))
	if err != nil {
		t.Fatal(err)
	}
	return NewService(project, "")
}

func TestGet(t *testing.T) {
	svc := newService(t, map[string]string{"deck/a.qz": card})
	ctx := context.Background()

	d, err := svc.Get(ctx, "deck/a.qz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Cards != 1 || len(d.Decks) != 1 || d.Decks[0] != "example" {
		t.Errorf("detail = %+v", d)
	}
	if d.Checksum != checksum.Sum([]byte(card)) {
		t.Errorf("checksum = %q", d.Checksum)
	}

	if _, err := svc.Get(ctx, "missing.qz"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_ParseErrorsInDetail(t *testing.T) {
	svc := newService(t, map[string]string{"bad.qz": "---\ndeck: x\n---\nQ\n"})

	d, err := svc.Get(context.Background(), "bad.qz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(d.Errors) != 1 || d.Cards != 0 {
		t.Errorf("detail = %+v, want one error", d)
	}
}

func TestCreate(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "new.qz", []byte(card)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "new.qz", []byte(card)); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
	if _, err := svc.Create(ctx, "notes.txt", []byte("x")); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("err = %v, want ErrInvalidPath for wrong extension", err)
	}

	sources, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sources) != 1 || sources[0].Rel != "new.qz" {
		t.Errorf("sources = %+v", sources)
	}
}

func TestUpdate_OptimisticLocking(t *testing.T) {
	svc := newService(t, map[string]string{"a.qz": "v1"})
	ctx := context.Background()

	if _, err := svc.Update(ctx, "a.qz", []byte("v2"), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	d, err := svc.Update(ctx, "a.qz", []byte("v2"), checksum.Sum([]byte("v1")))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.Content != "v2" {
		t.Errorf("content = %q", d.Content)
	}
	if _, err := svc.Update(ctx, "missing.qz", []byte("x"), ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutAndDelete(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	if _, err := svc.Put(ctx, "x/y.qz", []byte(card)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := svc.Delete(ctx, "x/y.qz"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, "x/y.qz"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, "../escape.qz"); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("err = %v, want ErrInvalidPath", err)
	}
}
