package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	logx "relaybot/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestCreateEnforcesOneJobPerUser(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.Create(ctx, Record{UserID: 42, Total: 5}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := st.Create(ctx, Record{UserID: 42, Total: 3})
	if !errors.Is(err, ErrJobExists) {
		t.Fatalf("second Create: got %v, want ErrJobExists", err)
	}

	// The existing record must be untouched.
	rec, ok, err := st.Get(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("Get: %v ok=%v", err, ok)
	}
	if rec.Total != 5 {
		t.Fatalf("Total = %d, want 5", rec.Total)
	}
}

func TestCreateConcurrentOnlyOneWins(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.Create(ctx, Record{UserID: 7, Total: 1})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, ErrJobExists) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one successful create, got %d", created)
	}
}

func TestUpdateInvariants(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.Create(ctx, Record{UserID: 1, Total: 5}); err != nil {
		t.Fatal(err)
	}
	if err := st.Update(ctx, 1, 2, 1); err != nil {
		t.Fatalf("valid update: %v", err)
	}
	if err := st.Update(ctx, 1, 1, 1); err == nil {
		t.Fatal("expected error: current decreased")
	}
	if err := st.Update(ctx, 1, 3, 4); err == nil {
		t.Fatal("expected error: success > current")
	}
	if err := st.Update(ctx, 1, 6, 2); err == nil {
		t.Fatal("expected error: current > total")
	}
	if err := st.Update(ctx, 99, 1, 0); !errors.Is(err, ErrNoJob) {
		t.Fatalf("update for absent user: got %v, want ErrNoJob", err)
	}

	rec, _, _ := st.Get(ctx, 1)
	if rec.Current != 2 || rec.Success != 1 {
		t.Fatalf("record mutated by invalid updates: %+v", rec)
	}
}

func TestCancelFlow(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if ok, err := st.RequestCancel(ctx, 5); err != nil || ok {
		t.Fatalf("cancel without job: ok=%v err=%v", ok, err)
	}

	if err := st.Create(ctx, Record{UserID: 5, Total: 3}); err != nil {
		t.Fatal(err)
	}
	if c, _ := st.IsCancelled(ctx, 5); c {
		t.Fatal("fresh job reports cancelled")
	}
	if ok, err := st.RequestCancel(ctx, 5); err != nil || !ok {
		t.Fatalf("RequestCancel: ok=%v err=%v", ok, err)
	}
	if c, _ := st.IsCancelled(ctx, 5); !c {
		t.Fatal("job not cancelled after request")
	}
	// Idempotent.
	if ok, _ := st.RequestCancel(ctx, 5); !ok {
		t.Fatal("second cancel request should still report true")
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	st, path := openTestStore(t)
	ctx := context.Background()

	if err := st.Create(ctx, Record{UserID: 9, Total: 10, Anchor: 100}); err != nil {
		t.Fatal(err)
	}
	if err := st.Update(ctx, 9, 4, 3); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	recs, err := st2.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 surviving record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.UserID != 9 || rec.Total != 10 || rec.Current != 4 || rec.Success != 3 || rec.Anchor != 100 {
		t.Fatalf("unexpected record after reopen: %+v", rec)
	}
}

func TestRemove(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.Create(ctx, Record{UserID: 2, Total: 1}); err != nil {
		t.Fatal(err)
	}
	if err := st.Remove(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Get(ctx, 2); ok {
		t.Fatal("record still present after Remove")
	}
	// Removing an absent record is not an error.
	if err := st.Remove(ctx, 2); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestSetProgressMessage(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.SetProgressMessage(ctx, 3, 77); err != ErrNoJob {
		t.Fatalf("err = %v, want ErrNoJob", err)
	}

	if err := st.Create(ctx, Record{UserID: 3, Total: 2, ProgressChatID: 555}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetProgressMessage(ctx, 3, 77); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := st.Get(ctx, 3)
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if rec.ProgressMsgID != 77 || rec.ProgressChatID != 555 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
