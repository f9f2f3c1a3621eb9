package prefs

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.json")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st, path
}

func TestGetSetDefault(t *testing.T) {
	st, _ := openTestStore(t)

	if got := st.Get(1, KeyCaption, "fallback"); got != "fallback" {
		t.Fatalf("default: got %q", got)
	}
	if err := st.Set(1, KeyCaption, "my caption"); err != nil {
		t.Fatal(err)
	}
	if got := st.Get(1, KeyCaption, "fallback"); got != "my caption" {
		t.Fatalf("got %q", got)
	}

	// Setting empty clears the key.
	if err := st.Set(1, KeyCaption, ""); err != nil {
		t.Fatal(err)
	}
	if got := st.Get(1, KeyCaption, "fallback"); got != "fallback" {
		t.Fatalf("after clear: got %q", got)
	}
}

func TestPersistAcrossReopen(t *testing.T) {
	st, path := openTestStore(t)
	if err := st.Set(5, KeyRenameTag, "[mychannel]"); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := st2.Get(5, KeyRenameTag, ""); got != "[mychannel]" {
		t.Fatalf("got %q", got)
	}
}

func TestWordHelpers(t *testing.T) {
	st, _ := openTestStore(t)

	if err := st.Set(2, KeyDeleteWords, "join free promo"); err != nil {
		t.Fatal(err)
	}
	words := st.DeleteWords(2)
	if len(words) != 3 || words[0] != "join" {
		t.Fatalf("DeleteWords = %v", words)
	}

	if err := st.Set(2, KeyReplacements, "old=new, bad=, malformed"); err != nil {
		t.Fatal(err)
	}
	repl := st.Replacements(2)
	if repl["old"] != "new" {
		t.Fatalf("Replacements = %v", repl)
	}
	if v, ok := repl["bad"]; !ok || v != "" {
		t.Fatalf("empty replacement should delete the word, got %v", repl)
	}
	if _, ok := repl["malformed"]; ok {
		t.Fatal("malformed pair should be skipped")
	}
}

func TestRoute(t *testing.T) {
	st, _ := openTestStore(t)

	if _, _, ok := st.Route(3); ok {
		t.Fatal("no route stored, ok should be false")
	}
	if err := st.Set(3, KeyRoute, "-1001234/88"); err != nil {
		t.Fatal(err)
	}
	chat, reply, ok := st.Route(3)
	if !ok || chat != -1001234 || reply != 88 {
		t.Fatalf("Route = (%d,%d,%v)", chat, reply, ok)
	}

	if err := st.Set(3, KeyRoute, "garbage"); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := st.Route(3); ok {
		t.Fatal("invalid route should not parse")
	}
}

func TestReset(t *testing.T) {
	st, _ := openTestStore(t)
	_ = st.Set(4, KeyCaption, "c")
	_ = st.Set(4, KeyRenameTag, "t")
	if err := st.Reset(4); err != nil {
		t.Fatal(err)
	}
	if got := st.Get(4, KeyCaption, ""); got != "" {
		t.Fatalf("after reset: %q", got)
	}
}
