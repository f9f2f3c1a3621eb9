package rename

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyToText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		text  string
		rules Rules
		want  string
	}{
		{name: "no rules", text: "hello world", rules: Rules{}, want: "hello world"},
		{
			name:  "delete words",
			text:  "join our channel for free stuff",
			rules: Rules{DeleteWords: []string{"join", "free"}},
			want:  "our channel for stuff",
		},
		{
			name:  "delete is case insensitive",
			text:  "JOIN now",
			rules: Rules{DeleteWords: []string{"join"}},
			want:  "now",
		},
		{
			name:  "replacements",
			text:  "episode 01 from OldTag",
			rules: Rules{Replacements: map[string]string{"OldTag": "NewTag"}},
			want:  "episode 01 from NewTag",
		},
		{
			name:  "delete then replace",
			text:  "promo episode promo 01",
			rules: Rules{DeleteWords: []string{"promo"}, Replacements: map[string]string{"episode": "ep"}},
			want:  "ep 01",
		},
		{
			name:  "everything removed",
			text:  "promo promo",
			rules: Rules{DeleteWords: []string{"promo"}},
			want:  "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyToText(tt.text, tt.rules); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyToFileRenames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "promo episode 01.mkv")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	got := ApplyToFile(path, Rules{DeleteWords: []string{"promo"}, Tag: "[mytag]"})
	want := filepath.Join(dir, "episode 01 [mytag].mkv")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("renamed file missing: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("original file still present")
	}
}

func TestApplyToFileBestEffort(t *testing.T) {
	// Nonexistent file: rename fails, original path comes back unchanged.
	path := filepath.Join(t.TempDir(), "missing.mp4")
	if got := ApplyToFile(path, Rules{Tag: "[x]"}); got != path {
		t.Fatalf("got %q, want original %q", got, path)
	}
}

func TestApplyToFileNoRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.mp4")
	if got := ApplyToFile(path, Rules{}); got != path {
		t.Fatalf("got %q, want %q", got, path)
	}
}
