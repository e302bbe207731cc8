package eventlog

import "testing"

func TestTimestampOrdering(t *testing.T) {
	a := Timestamp{Epoch: 1, Global: 5}
	b := Timestamp{Epoch: 1, Global: 6}
	if !a.Less(b) || b.Less(a) {
		t.Fatalf("global order broken: %v %v", a, b)
	}
	if c := (Timestamp{Epoch: 2, Global: 5}); !a.Less(c) {
		t.Fatalf("epoch tiebreak broken")
	}
	cached := a
	cached.NonLinearizable = true
	if a.Equal(cached) {
		t.Fatalf("cached timestamp must not equal append timestamp")
	}
	if !a.Less(cached) {
		t.Fatalf("linearizable timestamp sorts first at the same position")
	}
	if !a.Equal(Timestamp{Epoch: 1, Global: 5, Local: 9}) {
		t.Fatalf("local sequence must not affect ordering")
	}
}
