package progress

import "testing"

func TestSetClamps(t *testing.T) {
	var got []int
	f := Func(func(pct int) { got = append(got, pct) })

	f.Set(-5)
	f.Set(42)
	f.Set(250)

	want := []int{0, 42, 100}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestNilFuncDiscards(t *testing.T) {
	var f Func
	f.Set(50) // must not panic
}
