package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"relaybot/internal/creds"
	"relaybot/internal/platform"
	"relaybot/pkg/logx"
)

// fakeClient satisfies platform.Client with a switchable liveness flag.
type fakeClient struct {
	platform.Client

	name   string
	alive  atomic.Bool
	closed atomic.Bool
}

func newFakeClient(name string) *fakeClient {
	c := &fakeClient{name: name}
	c.alive.Store(true)
	return c
}

func (c *fakeClient) Connected(context.Context) bool { return c.alive.Load() }

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeFactory struct {
	relayBuilds    atomic.Int32
	delegateBuilds atomic.Int32
	relayErr       error
	delegateErr    error
	last           *fakeClient
}

func (f *fakeFactory) NewRelay(_ context.Context, userID int64, _ string) (platform.Client, error) {
	f.relayBuilds.Add(1)
	if f.relayErr != nil {
		return nil, f.relayErr
	}
	f.last = newFakeClient("relay")
	return f.last, nil
}

func (f *fakeFactory) NewDelegate(_ context.Context, userID int64, _ string) (platform.Client, error) {
	f.delegateBuilds.Add(1)
	if f.delegateErr != nil {
		return nil, f.delegateErr
	}
	f.last = newFakeClient("delegate")
	return f.last, nil
}

func newTestCreds(t *testing.T) *creds.Store {
	t.Helper()
	cs, err := creds.Open(filepath.Join(t.TempDir(), "creds.json"), "test-master")
	if err != nil {
		t.Fatal(err)
	}
	return cs
}

func TestNilCredsMeansSharedRelayOnly(t *testing.T) {
	shared := newFakeClient("shared")
	p := NewPool(&fakeFactory{}, nil, shared, logx.Nop())

	c, err := p.Relay(context.Background(), 1)
	if err != nil || c != shared {
		t.Fatalf("Relay = %v, %v; want shared", c, err)
	}
	if p.Delegate(context.Background(), 1) != nil {
		t.Fatal("no credential store means no delegates")
	}
}

func TestRelayFallsBackToShared(t *testing.T) {
	shared := newFakeClient("shared")
	p := NewPool(&fakeFactory{}, newTestCreds(t), shared, logx.Nop())

	c, err := p.Relay(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if c != shared {
		t.Fatal("user without a token should get the shared client")
	}
}

func TestRelayUsesRegisteredTokenAndCaches(t *testing.T) {
	cs := newTestCreds(t)
	if err := cs.SaveRelayToken(7, "123:abc"); err != nil {
		t.Fatal(err)
	}
	f := &fakeFactory{}
	p := NewPool(f, cs, newFakeClient("shared"), logx.Nop())

	first, err := p.Relay(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Relay(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("live handle should be reused")
	}
	if got := f.relayBuilds.Load(); got != 1 {
		t.Fatalf("relayBuilds = %d, want 1", got)
	}
}

func TestRelayBuildFailureFallsBackToShared(t *testing.T) {
	cs := newTestCreds(t)
	if err := cs.SaveRelayToken(7, "123:abc"); err != nil {
		t.Fatal(err)
	}
	shared := newFakeClient("shared")
	p := NewPool(&fakeFactory{relayErr: errors.New("boom")}, cs, shared, logx.Nop())

	c, err := p.Relay(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if c != shared {
		t.Fatal("build failure should fall back to the shared client")
	}
}

func TestDelegateWithoutSessionIsNil(t *testing.T) {
	p := NewPool(&fakeFactory{}, newTestCreds(t), newFakeClient("shared"), logx.Nop())
	if c := p.Delegate(context.Background(), 5); c != nil {
		t.Fatal("user without a session must have no delegate")
	}
}

func TestDelegateBuildFailureIsNil(t *testing.T) {
	cs := newTestCreds(t)
	if err := cs.SaveSession(5, "sess"); err != nil {
		t.Fatal(err)
	}
	p := NewPool(&fakeFactory{delegateErr: platform.ErrUnsupported}, cs, newFakeClient("shared"), logx.Nop())
	if c := p.Delegate(context.Background(), 5); c != nil {
		t.Fatal("unsupported delegate must come back nil")
	}
}

func TestDeadHandleIsEvictedAndRebuilt(t *testing.T) {
	cs := newTestCreds(t)
	if err := cs.SaveSession(5, "sess"); err != nil {
		t.Fatal(err)
	}
	f := &fakeFactory{}
	p := NewPool(f, cs, newFakeClient("shared"), logx.Nop())

	first := p.Delegate(context.Background(), 5)
	if first == nil {
		t.Fatal("expected delegate")
	}
	first.(*fakeClient).alive.Store(false)

	second := p.Delegate(context.Background(), 5)
	if second == nil || second == first {
		t.Fatal("dead handle should be replaced with a fresh one")
	}
	if !first.(*fakeClient).closed.Load() {
		t.Fatal("evicted handle should be closed")
	}
	if got := f.delegateBuilds.Load(); got != 2 {
		t.Fatalf("delegateBuilds = %d, want 2", got)
	}
}

func TestDropUserClosesHandles(t *testing.T) {
	cs := newTestCreds(t)
	_ = cs.SaveSession(5, "sess")
	_ = cs.SaveRelayToken(5, "123:abc")
	f := &fakeFactory{}
	p := NewPool(f, cs, newFakeClient("shared"), logx.Nop())

	relay, _ := p.Relay(context.Background(), 5)
	delegate := p.Delegate(context.Background(), 5)

	p.DropUser(5)
	if !relay.(*fakeClient).closed.Load() || !delegate.(*fakeClient).closed.Load() {
		t.Fatal("DropUser must close cached handles")
	}
	if got := f.delegateBuilds.Load(); got != 1 {
		t.Fatalf("delegateBuilds = %d before rebuild, want 1", got)
	}
	if p.Delegate(context.Background(), 5) == delegate {
		t.Fatal("dropped handle must not be served again")
	}
}

func TestCloseLeavesSharedAlone(t *testing.T) {
	cs := newTestCreds(t)
	_ = cs.SaveRelayToken(5, "123:abc")
	shared := newFakeClient("shared")
	p := NewPool(&fakeFactory{}, cs, shared, logx.Nop())

	relay, _ := p.Relay(context.Background(), 5)
	p.Close()
	if !relay.(*fakeClient).closed.Load() {
		t.Fatal("Close must close cached handles")
	}
	if shared.closed.Load() {
		t.Fatal("Close must not touch the shared client")
	}
}
