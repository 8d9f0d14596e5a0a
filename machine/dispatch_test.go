package machine

import "testing"

func TestIsSyntheticHalt(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string
		cs   uint16
		ip   uint16
		want bool
	}{
		{name: "int0", cs: trampolineSelector, ip: 1, want: true},
		{name: "int255", cs: trampolineSelector, ip: 256, want: true},
		{name: "int0x10", cs: trampolineSelector, ip: 0x11, want: true},
		{name: "wrong selector", cs: 0x1000, ip: 1, want: false},
		{name: "ip zero", cs: trampolineSelector, ip: 0, want: false},
		{name: "ip too large", cs: trampolineSelector, ip: 257, want: false},
	} {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := isSyntheticHalt(test.cs, test.ip); got != test.want {
				t.Errorf("isSyntheticHalt(%#x, %#x): have %v, want %v", test.cs, test.ip, got, test.want)
			}
		})
	}
}
