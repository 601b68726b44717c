package model

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"stressnet/neuralnet"
)

// FNO is a 2D Fourier neural operator: a pointwise lift, Layers Fourier layers
// and a pointwise projection.
type FNO struct {
	Modes1, Modes2 int
	Width          int
	Layers         int
	In, Out        int
}

type spectralNodes struct {
	fwdCol, fwdRow, invRow, invCol [2]*gorgonia.Node
	modes                          int
	m1, m2                         int
}

func newSpectralNodes(s *neuralnet.Scope, b *basis) *spectralNodes {
	m1, m2 := len(b.rowK), len(b.colK)
	sn := &spectralNodes{modes: m1 * m2, m1: m1, m2: m2}
	part := [2]string{"cos", "sin"}
	for p := 0; p < 2; p++ {
		sn.fwdCol[p] = s.Constant("fwd.col."+part[p], []int{b.w, m2}, b.fwdCol[p])
		sn.fwdRow[p] = s.Constant("fwd.row."+part[p], []int{b.h, m1}, b.fwdRow[p])
		sn.invRow[p] = s.Constant("inv.row."+part[p], []int{m1, b.h}, b.invRow[p])
		sn.invCol[p] = s.Constant("inv.col."+part[p], []int{m2, b.w}, b.invCol[p])
	}
	return sn
}

func (f *FNO) Forward(s *neuralnet.Scope, x *gorgonia.Node) (*gorgonia.Node, error) {
	sh := x.Shape()
	if len(sh) != 4 || sh[1] != f.In {
		return nil, fmt.Errorf("FNO wants (batch, %d, h, w) input, got %v", f.In, sh)
	}
	sn := newSpectralNodes(s.Sub(fmt.Sprintf("dft%dx%d", sh[2], sh[3])), newBasis(sh[2], sh[3], f.Modes1, f.Modes2))

	y, err := neuralnet.Conv2D{Name: "lift", In: f.In, Out: f.Width, Kernel: 1}.Forward(s, x)
	if err != nil {
		return nil, err
	}
	for l := 0; l < f.Layers; l++ {
		ls := s.Sub(fmt.Sprintf("fourier%d", l))
		sp, err := f.spectral(ls, sn, y)
		if err != nil {
			return nil, fmt.Errorf("fourier layer %d: %w", l, err)
		}
		bypass, err := neuralnet.Conv2D{Name: "bypass", In: f.Width, Out: f.Width, Kernel: 1}.Forward(ls, y)
		if err != nil {
			return nil, err
		}
		if y, err = gorgonia.Add(sp, bypass); err != nil {
			return nil, err
		}
		if l < f.Layers-1 {
			if y, err = (neuralnet.ReLU{}).Activate(y); err != nil {
				return nil, err
			}
		}
	}
	return neuralnet.Conv2D{Name: "project", In: f.Width, Out: f.Out, Kernel: 1}.Forward(s, y)
}

// spectral transforms x to the kept Fourier modes, mixes channels per mode with
// complex weights and transforms back.
func (f *FNO) spectral(s *neuralnet.Scope, sn *spectralNodes, x *gorgonia.Node) (*gorgonia.Node, error) {
	sh := x.Shape()
	batch, h, w := sh[0], sh[2], sh[3]

	// along width: (batch, width, h, m2), then height last: (batch, width, m2, h)
	var cols [2]*gorgonia.Node
	for p := 0; p < 2; p++ {
		c, err := neuralnet.MatMulLast(x, sn.fwdCol[p])
		if err != nil {
			return nil, err
		}
		if cols[p], err = neuralnet.SwapSpatial(c); err != nil {
			return nil, err
		}
	}
	// re = C_h.A - S_h.S, im = -(S_h.A + C_h.S), laid out (batch, width, m2, m1)
	cc, err := neuralnet.MatMulLast(cols[0], sn.fwdRow[0])
	if err != nil {
		return nil, err
	}
	ss, err := neuralnet.MatMulLast(cols[1], sn.fwdRow[1])
	if err != nil {
		return nil, err
	}
	sc, err := neuralnet.MatMulLast(cols[0], sn.fwdRow[1])
	if err != nil {
		return nil, err
	}
	cs, err := neuralnet.MatMulLast(cols[1], sn.fwdRow[0])
	if err != nil {
		return nil, err
	}
	re, err := gorgonia.Sub(cc, ss)
	if err != nil {
		return nil, err
	}
	imPos, err := gorgonia.Add(sc, cs)
	if err != nil {
		return nil, err
	}
	im, err := gorgonia.Neg(imPos)
	if err != nil {
		return nil, err
	}

	scale := 1 / float64(f.Width*f.Width)
	wr, err := s.Param("weight.re", neuralnet.ScaledUniform(scale), 1, f.Width, f.Width, sn.modes)
	if err != nil {
		return nil, err
	}
	wi, err := s.Param("weight.im", neuralnet.ScaledUniform(scale), 1, f.Width, f.Width, sn.modes)
	if err != nil {
		return nil, err
	}
	flat := []int{batch, f.Width, 1, sn.modes}
	if re, err = gorgonia.Reshape(re, flat); err != nil {
		return nil, err
	}
	if im, err = gorgonia.Reshape(im, flat); err != nil {
		return nil, err
	}
	rr, err := mixModes(re, wr)
	if err != nil {
		return nil, err
	}
	ii, err := mixModes(im, wi)
	if err != nil {
		return nil, err
	}
	ri, err := mixModes(re, wi)
	if err != nil {
		return nil, err
	}
	ir, err := mixModes(im, wr)
	if err != nil {
		return nil, err
	}
	outRe, err := gorgonia.Sub(rr, ii)
	if err != nil {
		return nil, err
	}
	outIm, err := gorgonia.Add(ri, ir)
	if err != nil {
		return nil, err
	}
	modes := []int{batch, f.Width, sn.m2, sn.m1}
	if outRe, err = gorgonia.Reshape(outRe, modes); err != nil {
		return nil, err
	}
	if outIm, err = gorgonia.Reshape(outIm, modes); err != nil {
		return nil, err
	}

	// back along height: p = re.C - im.S, q = re.S + im.C, (batch, width, m2, h)
	rc, err := neuralnet.MatMulLast(outRe, sn.invRow[0])
	if err != nil {
		return nil, err
	}
	is, err := neuralnet.MatMulLast(outIm, sn.invRow[1])
	if err != nil {
		return nil, err
	}
	rs, err := neuralnet.MatMulLast(outRe, sn.invRow[1])
	if err != nil {
		return nil, err
	}
	ic, err := neuralnet.MatMulLast(outIm, sn.invRow[0])
	if err != nil {
		return nil, err
	}
	p, err := gorgonia.Sub(rc, is)
	if err != nil {
		return nil, err
	}
	q, err := gorgonia.Add(rs, ic)
	if err != nil {
		return nil, err
	}
	if p, err = neuralnet.SwapSpatial(p); err != nil {
		return nil, err
	}
	if q, err = neuralnet.SwapSpatial(q); err != nil {
		return nil, err
	}
	// then along width: y = p.C - q.S, (batch, width, h, w)
	pc, err := neuralnet.MatMulLast(p, sn.invCol[0])
	if err != nil {
		return nil, err
	}
	qs, err := neuralnet.MatMulLast(q, sn.invCol[1])
	if err != nil {
		return nil, err
	}
	y, err := gorgonia.Sub(pc, qs)
	if err != nil {
		return nil, err
	}
	if got := y.Shape(); got[2] != h || got[3] != w {
		return nil, fmt.Errorf("inverse transform shape %v", got)
	}
	return y, nil
}

// mixModes sums x (batch, in, 1, modes) times w (1, in, out, modes) over in,
// giving (batch, out, modes).
func mixModes(x, w *gorgonia.Node) (*gorgonia.Node, error) {
	prod, err := gorgonia.BroadcastHadamardProd(x, w, []byte{2}, []byte{0})
	if err != nil {
		return nil, err
	}
	return gorgonia.Sum(prod, 1)
}
