// Package progress carries percentage updates from long-running operations
// to whatever front-end is listening.
package progress

// Func receives percentage updates. Values are clamped to [0,100] before
// delivery; a nil Func discards updates.
type Func func(pct int)

func (f Func) Set(pct int) {
	if f == nil {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	f(pct)
}
