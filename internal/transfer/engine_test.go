package transfer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"relaybot/internal/platform"
	"relaybot/internal/rename"
	"relaybot/pkg/logx"
)

type recordClient struct {
	platform.Client

	payload []byte

	sendTextCalls []string
	sendRefCalls  int
	sendRefErr    error
	uploads       []platform.Upload
	uploadDests   []platform.Dest
	uploadBodies  [][]byte
	uploadErr     error
	copies        [][2]int64 // fromChat, msgID
	copyErr       error
	edits         []string

	nextID int
}

func (c *recordClient) id() int {
	c.nextID++
	return c.nextID
}

func (c *recordClient) Download(_ context.Context, item *platform.Item, dir string, progress platform.ProgressFunc) (string, error) {
	path := filepath.Join(dir, item.FileName)
	if err := os.WriteFile(path, c.payload, 0o600); err != nil {
		return "", err
	}
	if progress != nil {
		total := int64(len(c.payload))
		progress(total/2, total)
		progress(total, total)
	}
	return path, nil
}

func (c *recordClient) SendText(_ context.Context, _ platform.Dest, text string) (int, error) {
	c.sendTextCalls = append(c.sendTextCalls, text)
	return c.id(), nil
}

func (c *recordClient) SendByRef(_ context.Context, _ platform.Dest, _ *platform.Item, _ string) (int, error) {
	c.sendRefCalls++
	if c.sendRefErr != nil {
		return 0, c.sendRefErr
	}
	return c.id(), nil
}

func (c *recordClient) Upload(_ context.Context, dest platform.Dest, up platform.Upload) (int, error) {
	if c.uploadErr != nil {
		return 0, c.uploadErr
	}
	c.uploads = append(c.uploads, up)
	c.uploadDests = append(c.uploadDests, dest)
	if body, err := os.ReadFile(up.Path); err == nil {
		c.uploadBodies = append(c.uploadBodies, body)
	}
	return c.id(), nil
}

func (c *recordClient) Copy(_ context.Context, _ platform.Dest, fromChat int64, msgID int) (int, error) {
	if c.copyErr != nil {
		return 0, c.copyErr
	}
	c.copies = append(c.copies, [2]int64{fromChat, int64(msgID)})
	return c.id(), nil
}

func (c *recordClient) EditText(_ context.Context, _ int64, _ int, text string) error {
	c.edits = append(c.edits, text)
	return nil
}

func newEngine(t *testing.T, threshold int64) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Config{DownloadDir: dir, StagingThreshold: threshold, StagingChatID: -100500}, logx.Nop()), dir
}

func docItem(name string, size int64) *platform.Item {
	return &platform.Item{ID: 1, Kind: platform.KindDocument, FileRef: "ref", FileName: name, FileSize: size}
}

func TestDeliverText(t *testing.T) {
	e, _ := newEngine(t, 0)
	relay := &recordClient{}

	id, err := e.Deliver(context.Background(), Request{
		Item:  &platform.Item{Kind: platform.KindText, Text: "promo hello"},
		Relay: relay,
		Rules: rename.Rules{DeleteWords: []string{"promo"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 || len(relay.sendTextCalls) != 1 || relay.sendTextCalls[0] != "hello" {
		t.Fatalf("sendTextCalls = %v", relay.sendTextCalls)
	}
}

func TestDeliverTextAllRemoved(t *testing.T) {
	e, _ := newEngine(t, 0)
	_, err := e.Deliver(context.Background(), Request{
		Item:  &platform.Item{Kind: platform.KindText, Text: "promo"},
		Relay: &recordClient{},
		Rules: rename.Rules{DeleteWords: []string{"promo"}},
	})
	if !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("err = %v, want ErrNothingToSend", err)
	}
}

func TestOpaqueReferenceIsCopied(t *testing.T) {
	e, _ := newEngine(t, 0)
	relay := &recordClient{}

	if _, err := e.Deliver(context.Background(), Request{
		Item:  &platform.Item{ID: 7, Chat: platform.ChatRef{ID: -100123}},
		Relay: relay,
		Dest:  platform.Dest{ChatID: 42},
	}); err != nil {
		t.Fatal(err)
	}
	if len(relay.copies) != 1 || relay.copies[0][0] != -100123 || relay.copies[0][1] != 7 {
		t.Fatalf("copies = %v", relay.copies)
	}
}

func TestDeliverByReference(t *testing.T) {
	e, _ := newEngine(t, 0)
	relay := &recordClient{}

	if _, err := e.Deliver(context.Background(), Request{
		Item:  docItem("a.pdf", 100),
		Relay: relay,
	}); err != nil {
		t.Fatal(err)
	}
	if relay.sendRefCalls != 1 || len(relay.uploads) != 0 {
		t.Fatalf("sendRefCalls=%d uploads=%d", relay.sendRefCalls, len(relay.uploads))
	}
}

func TestRestrictedItemIsMaterialized(t *testing.T) {
	e, dir := newEngine(t, 1<<20)
	source := &recordClient{payload: []byte("data")}
	relay := &recordClient{}

	item := docItem("a.pdf", 4)
	item.Restricted = true
	if _, err := e.Deliver(context.Background(), Request{
		Item:   item,
		Source: source,
		Relay:  relay,
	}); err != nil {
		t.Fatal(err)
	}
	if relay.sendRefCalls != 0 {
		t.Fatal("restricted media must not be re-sent by reference")
	}
	if len(relay.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(relay.uploads))
	}

	// No artifacts left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover artifacts: %v", entries)
	}
}

func TestRenameTagForcesMaterialization(t *testing.T) {
	e, _ := newEngine(t, 1<<20)
	source := &recordClient{payload: []byte("data")}
	relay := &recordClient{}

	if _, err := e.Deliver(context.Background(), Request{
		Item:   docItem("report.pdf", 4),
		Source: source,
		Relay:  relay,
		Rules:  rename.Rules{Tag: "[tag]"},
	}); err != nil {
		t.Fatal(err)
	}
	if relay.sendRefCalls != 0 {
		t.Fatal("a rename tag must skip the by-reference path")
	}
	if len(relay.uploads) != 1 || filepath.Base(relay.uploads[0].Path) != "report [tag].pdf" {
		t.Fatalf("uploads = %+v", relay.uploads)
	}
}

func TestByReferenceFailureFallsBackToUpload(t *testing.T) {
	e, _ := newEngine(t, 1<<20)
	source := &recordClient{payload: []byte("data")}
	relay := &recordClient{sendRefErr: errors.New("ref expired")}

	if _, err := e.Deliver(context.Background(), Request{
		Item:   docItem("a.pdf", 4),
		Source: source,
		Relay:  relay,
	}); err != nil {
		t.Fatal(err)
	}
	if relay.sendRefCalls != 1 || len(relay.uploads) != 1 {
		t.Fatalf("sendRefCalls=%d uploads=%d", relay.sendRefCalls, len(relay.uploads))
	}
}

func TestOversizedPayloadRoutesThroughStaging(t *testing.T) {
	e, _ := newEngine(t, 8)
	source := &recordClient{payload: []byte("0123456789")} // over threshold
	relay := &recordClient{}
	delegate := &recordClient{}

	item := docItem("big.bin", 10)
	item.Restricted = true
	if _, err := e.Deliver(context.Background(), Request{
		Item:     item,
		Source:   source,
		Relay:    relay,
		Delegate: delegate,
		Dest:     platform.Dest{ChatID: 42},
	}); err != nil {
		t.Fatal(err)
	}
	if len(delegate.uploads) != 1 {
		t.Fatal("oversized payload must be uploaded by the delegate")
	}
	if got := delegate.uploadDests[0].ChatID; got != -100500 {
		t.Fatalf("staged to chat %d, want -100500", got)
	}
	if len(relay.copies) != 1 || relay.copies[0][0] != -100500 {
		t.Fatalf("copies = %v", relay.copies)
	}
	if len(relay.uploads) != 0 {
		t.Fatal("relay must not upload the oversized payload directly")
	}
}

func TestUnderThresholdUploadsDirectly(t *testing.T) {
	e, _ := newEngine(t, 64)
	source := &recordClient{payload: []byte("small")}
	relay := &recordClient{}
	delegate := &recordClient{}

	item := docItem("small.bin", 5)
	item.Restricted = true
	if _, err := e.Deliver(context.Background(), Request{
		Item:     item,
		Source:   source,
		Relay:    relay,
		Delegate: delegate,
	}); err != nil {
		t.Fatal(err)
	}
	if len(delegate.uploads) != 0 || len(relay.uploads) != 1 {
		t.Fatalf("delegate=%d relay=%d uploads", len(delegate.uploads), len(relay.uploads))
	}
}

func TestExactThresholdUploadsDirectly(t *testing.T) {
	e, _ := newEngine(t, 10)
	source := &recordClient{payload: []byte("0123456789")} // exactly the threshold
	relay := &recordClient{}
	delegate := &recordClient{}

	item := docItem("edge.bin", 10)
	item.Restricted = true
	if _, err := e.Deliver(context.Background(), Request{
		Item:     item,
		Source:   source,
		Relay:    relay,
		Delegate: delegate,
	}); err != nil {
		t.Fatal(err)
	}
	if len(delegate.uploads) != 0 {
		t.Fatal("a payload at the threshold must not be staged")
	}
	if len(relay.uploads) != 1 {
		t.Fatalf("relay uploads = %d, want 1", len(relay.uploads))
	}
}

func TestSameNameDownloadsDoNotCollide(t *testing.T) {
	e, dir := newEngine(t, 1<<20)
	payloads := [2][]byte{[]byte("first payload"), []byte("second, longer payload")}
	relays := [2]*recordClient{{}, {}}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := docItem("video.mp4", int64(len(payloads[i])))
			item.Restricted = true
			_, err := e.Deliver(context.Background(), Request{
				Item:   item,
				Source: &recordClient{payload: payloads[i]},
				Relay:  relays[i],
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if len(relays[i].uploadBodies) != 1 || !bytes.Equal(relays[i].uploadBodies[0], payloads[i]) {
			t.Fatalf("upload %d carried %q, want %q", i, relays[i].uploadBodies, payloads[i])
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover artifacts: %v", entries)
	}
}

func TestOversizedWithoutStagingRouteFails(t *testing.T) {
	e, dir := newEngine(t, 8)
	source := &recordClient{payload: []byte("0123456789")}

	item := docItem("big.bin", 10)
	item.Restricted = true
	_, err := e.Deliver(context.Background(), Request{
		Item:   item,
		Source: source,
		Relay:  &recordClient{},
	})
	if !errors.Is(err, ErrNoStagingRoute) {
		t.Fatalf("err = %v, want ErrNoStagingRoute", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("leftover artifacts after failure: %v", entries)
	}
}

func TestProgressStep(t *testing.T) {
	t.Parallel()
	tests := []struct {
		total int64
		want  int
	}{
		{total: 200 << 20, want: 10},
		{total: 100 << 20, want: 10},
		{total: 60 << 20, want: 20},
		{total: 20 << 20, want: 30},
		{total: 1 << 20, want: 50},
	}
	for _, tt := range tests {
		if got := progressStep(tt.total); got != tt.want {
			t.Errorf("progressStep(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestReporterThrottlesEdits(t *testing.T) {
	client := &recordClient{}
	r := NewReporter(client, 1, 2, "Downloading")
	fn := r.Func(context.Background())

	total := int64(200 << 20) // step 10
	fn(0, total)
	fn(total/100*3, total)  // 3%: suppressed
	fn(total/100*12, total) // 12%: reported
	fn(total/100*15, total) // 15%: suppressed
	fn(total, total)        // 100%: forced final

	if len(client.edits) != 3 {
		t.Fatalf("edits = %v, want 3 entries", client.edits)
	}
}

func TestReporterNilSafe(t *testing.T) {
	var r *Reporter
	if fn := r.Func(context.Background()); fn != nil {
		t.Fatal("nil reporter must yield a nil callback")
	}
	r.Reset("x")
}

func TestStagedCopyFailureKeepsError(t *testing.T) {
	e, _ := newEngine(t, 8)
	source := &recordClient{payload: []byte("0123456789")}
	relay := &recordClient{copyErr: errors.New("copy blocked")}
	delegate := &recordClient{}

	item := docItem("big.bin", 10)
	item.Restricted = true
	_, err := e.Deliver(context.Background(), Request{
		Item:     item,
		Source:   source,
		Relay:    relay,
		Delegate: delegate,
	})
	if err == nil {
		t.Fatal("copy failure must surface")
	}
	if len(delegate.uploads) != 1 {
		t.Fatal("staged upload should have happened before the copy failed")
	}
	// The orphaned staged message stays behind; the error names it.
	if !strings.Contains(err.Error(), "orphaned message 1 in chat -100500") {
		t.Fatalf("err = %v, want the staged message location", err)
	}
}

func TestThresholdConstant(t *testing.T) {
	if DefaultStagingThreshold != 2<<30 {
		t.Fatalf("DefaultStagingThreshold = %d", DefaultStagingThreshold)
	}
	if got := strconv.FormatInt(DefaultStagingThreshold, 10); got != "2147483648" {
		t.Fatalf("threshold = %s", got)
	}
}
