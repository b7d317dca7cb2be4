package bot

import "testing"

func TestMatchMask(t *testing.T) {
	tests := []struct {
		mask   string
		prefix string
		want   bool
	}{
		{"owner!*@trusted.example", "owner!o@trusted.example", true},
		{"owner!*@trusted.example", "OWNER!o@TRUSTED.example", true},
		{"owner!*@trusted.example", "owner!o@evil.example", false},
		{"*!*@*.example", "bob!b@host.example", true},
		{"*!*@*.example", "bob!b@example", false},
		{"bob!*@*", "bobby!b@h", false},
		{"bob*!*@*", "bobby!b@h", true},
		{"*", "anyone!a@b", true},
		{"nick[m]!*@*", "nick{m}!x@y", true},
		{"*a*b*c", "xxaxxbxxc", true},
		{"*a*b*c", "xxaxxbxxcx", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.mask+" "+tt.prefix, func(t *testing.T) {
			if got := matchMask(tt.mask, tt.prefix); got != tt.want {
				t.Errorf("matchMask(%q, %q) = %v, want %v", tt.mask, tt.prefix, got, tt.want)
			}
		})
	}
}
