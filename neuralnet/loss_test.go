package neuralnet

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestL1Compute(t *testing.T) {
	l1 := L1{}
	output := []float64{1, -2, 3, 0}
	target := []float64{0, 0, 3, 2}
	if got, want := l1.Compute(output, target), 5.0/4; !floatEquals(got, want, 1e-12) {
		t.Errorf("L1.Compute = %v; want %v", got, want)
	}
	if got := l1.Compute(nil, nil); got != 0 {
		t.Errorf("L1.Compute on empty input = %v; want 0", got)
	}
}

func TestBCEWithLogits(t *testing.T) {
	bce := func(x, t float64) float64 {
		p := 1 / (1 + math.Exp(-x))
		return -(t*math.Log(p) + (1-t)*math.Log(1-p))
	}
	logits := []float64{-3, -0.5, 0, 0.5, 3}
	for _, target := range []float64{0, 1} {
		want := 0.0
		for _, x := range logits {
			want += bce(x, target)
		}
		want /= float64(len(logits))
		got := run(t, logits, func(x *gorgonia.Node) (*gorgonia.Node, error) { return BCEWithLogits(x, target) })
		if !floatEquals(got[0], want, 1e-9) {
			t.Errorf("BCEWithLogits(target %v) = %v; want %v", target, got[0], want)
		}
	}
}

func TestBCEWithLogitsLargeLogits(t *testing.T) {
	tests := []struct {
		description string
		logits      []float64
		target      float64
		want        float64
	}{
		{description: "confident and right, positive", logits: []float64{800, 900}, target: 1, want: 0},
		{description: "confident and right, negative", logits: []float64{-800, -900}, target: 0, want: 0},
		{description: "confident and wrong", logits: []float64{800}, target: 0, want: 800},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			got := run(t, tt.logits, func(x *gorgonia.Node) (*gorgonia.Node, error) { return BCEWithLogits(x, tt.target) })
			if math.IsNaN(got[0]) || math.IsInf(got[0], 0) || !floatEquals(got[0], tt.want, 1e-9) {
				t.Errorf("BCEWithLogits = %v; want %v", got[0], tt.want)
			}
		})
	}
}

// ganGraph evaluates a loss built from several named vectors.
func ganGraph(t *testing.T, inputs map[string][]float64, build func(n map[string]*gorgonia.Node) ([]*gorgonia.Node, error)) []float64 {
	t.Helper()
	g := gorgonia.NewGraph()
	nodes := make(map[string]*gorgonia.Node)
	for name, data := range inputs {
		val := tensor.New(tensor.WithShape(len(data)), tensor.WithBacking(append([]float64(nil), data...)))
		nodes[name] = gorgonia.NewTensor(g, tensor.Float64, 1, gorgonia.WithShape(len(data)), gorgonia.WithName(name), gorgonia.WithValue(val))
	}
	outs, err := build(nodes)
	if err != nil {
		t.Fatal(err)
	}
	vals := make([]gorgonia.Value, len(outs))
	for i, o := range outs {
		gorgonia.Read(o, &vals[i])
	}
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	res := make([]float64, len(vals))
	for i, v := range vals {
		f, err := scalar(v)
		if err != nil {
			t.Fatal(err)
		}
		res[i] = f
	}
	return res
}

func TestGeneratorLoss(t *testing.T) {
	inputs := map[string][]float64{
		"generated": {1, 2, 3},
		"target":    {1, 1, 1},
		"disc":      {1000, 2000},
	}
	got := ganGraph(t, inputs, func(n map[string]*gorgonia.Node) ([]*gorgonia.Node, error) {
		l, err := NewGeneratorLoss(n["generated"], n["target"], n["disc"], DefaultLambda)
		if err != nil {
			return nil, err
		}
		return []*gorgonia.Node{l.Total, l.Adversarial, l.L1}, nil
	})
	total, adv, l1 := got[0], got[1], got[2]
	if !floatEquals(adv, 0, 1e-9) {
		t.Errorf("adversarial term = %v; want 0 for large positive logits", adv)
	}
	if !floatEquals(l1, 1, 1e-12) {
		t.Errorf("L1 term = %v; want 1", l1)
	}
	if !floatEquals(total, adv+DefaultLambda*l1, 1e-9) {
		t.Errorf("total = %v; want %v", total, adv+DefaultLambda*l1)
	}
}

func TestDiscriminatorLoss(t *testing.T) {
	inputs := map[string][]float64{
		"generated": {-1000, -500},
		"real":      {0, 0},
	}
	got := ganGraph(t, inputs, func(n map[string]*gorgonia.Node) ([]*gorgonia.Node, error) {
		l, err := NewDiscriminatorLoss(n["generated"], n["real"])
		if err != nil {
			return nil, err
		}
		return []*gorgonia.Node{l.Total, l.Generated, l.Real}, nil
	})
	total, gen, onReal := got[0], got[1], got[2]
	if !floatEquals(gen, 0, 1e-9) {
		t.Errorf("generated term = %v; want 0 for large negative logits", gen)
	}
	if !floatEquals(onReal, math.Ln2, 1e-9) {
		t.Errorf("real term = %v; want ln 2", onReal)
	}
	if !floatEquals(total, gen+onReal, 1e-12) {
		t.Errorf("total = %v; want %v", total, gen+onReal)
	}
}
