package access

import "testing"

func TestAllowList(t *testing.T) {
	empty := NewAllowList(nil)
	if empty.Enabled() || !empty.Allowed(222, "") {
		t.Fatalf("empty list must allow everyone")
	}

	var nilList *AllowList
	if !nilList.Allowed(1, "x") {
		t.Fatalf("nil list must allow everyone")
	}

	list := NewAllowList([]string{"111", " @Alice ", ""})
	if !list.Enabled() || list.Len() != 2 {
		t.Fatalf("unexpected list size %d", list.Len())
	}
	tests := []struct {
		id   int64
		user string
		want bool
	}{
		{111, "", true},
		{222, "", false},
		{222, "alice", true},
		{333, "@ALICE", true},
		{333, "bob", false},
	}
	for _, tt := range tests {
		if got := list.Allowed(tt.id, tt.user); got != tt.want {
			t.Fatalf("Allowed(%d, %q) = %v, want %v", tt.id, tt.user, got, tt.want)
		}
	}
}
