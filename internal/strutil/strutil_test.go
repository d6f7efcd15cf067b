package strutil

import (
	"reflect"
	"testing"
)

func TestCleanList(t *testing.T) {
	got := CleanList([]string{" a ", "b", "", "a", "  ", "c"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CleanList() = %q, want %q", got, want)
	}
	if got := CleanList([]string{"", " "}); got != nil {
		t.Fatalf("CleanList() = %q, want nil", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList("1.1.1.1,8.8.8.8", "9.9.9.9 1.1.1.1", " ")
	want := []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitList() = %q, want %q", got, want)
	}
}

func TestShellEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"eth0", "'eth0'"},
		{"Wired connection 1", "'Wired connection 1'"},
		{"it's", `'it'"'"'s'`},
	}
	for _, tt := range tests {
		if got := ShellEscape(tt.in); got != tt.want {
			t.Errorf("ShellEscape(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestShellJoin(t *testing.T) {
	if got, want := ShellJoin("ping", "-c", "1", "a b"), "'ping' '-c' '1' 'a b'"; got != want {
		t.Fatalf("ShellJoin() = %s, want %s", got, want)
	}
}
