package transport

import "io"

// countingReader reports the running byte count as it is consumed.
type countingReader struct {
	r      io.Reader
	done   int64
	onRead func(done int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.done += int64(n)
		if c.onRead != nil {
			c.onRead(c.done)
		}
	}
	return n, err
}

// fraction clamps done/total into [0,1]. A zero total counts as complete.
func fraction(done, total int64) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}
