package access

import "testing"

func TestGateAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowAll  bool
		usernames []string
		userIDs   []int64
		id        int64
		username  string
		want      bool
	}{
		{name: "allow all", allowAll: true, id: 1, username: "anyone", want: true},
		{name: "empty lists deny", id: 1, username: "anyone", want: false},
		{name: "username match", usernames: []string{"alice"}, id: 1, username: "alice", want: true},
		{name: "username case insensitive", usernames: []string{"Alice"}, id: 1, username: "aLiCe", want: true},
		{name: "username miss", usernames: []string{"alice"}, id: 1, username: "bob", want: false},
		{name: "user id match", userIDs: []int64{42}, id: 42, want: true},
		{name: "user id miss", userIDs: []int64{42}, id: 43, want: false},
		{name: "either list suffices", usernames: []string{"alice"}, userIDs: []int64{42}, id: 42, username: "bob", want: true},
		{name: "no username provided", usernames: []string{"alice"}, id: 7, username: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.allowAll, tt.usernames, tt.userIDs)
			if got := g.Allowed(tt.id, tt.username); got != tt.want {
				t.Errorf("Allowed(%d, %q) = %v, want %v", tt.id, tt.username, got, tt.want)
			}
		})
	}
}
