package model

import "math"

// basis holds the real matrices of a truncated 2D DFT of an h x w field.
// Rows keep the lowest and highest row frequencies, columns the lowest
// non-negative column frequencies.
type basis struct {
	h, w   int
	rowK   []int
	colK   []int
	fwdRow [2][]float64 // cos, sin: (h, len(rowK))
	fwdCol [2][]float64 // cos, sin: (w, len(colK))
	invRow [2][]float64 // cos, sin: (len(rowK), h)
	invCol [2][]float64 // cos, sin: (len(colK), w), weighted and scaled by 1/(h*w)
}

func rowFrequencies(h, modes int) []int {
	if 2*modes >= h {
		k := make([]int, h)
		for i := range k {
			k[i] = i
		}
		return k
	}
	k := make([]int, 0, 2*modes)
	for i := 0; i < modes; i++ {
		k = append(k, i)
	}
	for i := h - modes; i < h; i++ {
		k = append(k, i)
	}
	return k
}

func colFrequencies(w, modes int) []int {
	if modes > w/2+1 {
		modes = w/2 + 1
	}
	k := make([]int, modes)
	for i := range k {
		k[i] = i
	}
	return k
}

func newBasis(h, w, modes1, modes2 int) *basis {
	b := &basis{h: h, w: w, rowK: rowFrequencies(h, modes1), colK: colFrequencies(w, modes2)}
	m1, m2 := len(b.rowK), len(b.colK)
	for p := 0; p < 2; p++ {
		b.fwdRow[p] = make([]float64, h*m1)
		b.invRow[p] = make([]float64, m1*h)
		b.fwdCol[p] = make([]float64, w*m2)
		b.invCol[p] = make([]float64, m2*w)
	}
	for y := 0; y < h; y++ {
		for i, k := range b.rowK {
			a := 2 * math.Pi * float64(k*y) / float64(h)
			b.fwdRow[0][y*m1+i] = math.Cos(a)
			b.fwdRow[1][y*m1+i] = math.Sin(a)
			b.invRow[0][i*h+y] = math.Cos(a)
			b.invRow[1][i*h+y] = math.Sin(a)
		}
	}
	norm := 1 / float64(h*w)
	for x := 0; x < w; x++ {
		for j, k := range b.colK {
			a := 2 * math.Pi * float64(k*x) / float64(w)
			b.fwdCol[0][x*m2+j] = math.Cos(a)
			b.fwdCol[1][x*m2+j] = math.Sin(a)
			c := 2.0
			if k == 0 || 2*k == w {
				c = 1
			}
			b.invCol[0][j*w+x] = c * norm * math.Cos(a)
			b.invCol[1][j*w+x] = c * norm * math.Sin(a)
		}
	}
	return b
}
