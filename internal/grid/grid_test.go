package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/matisse-tools/diskfit/internal/units"
)

func TestNewImageAxis(t *testing.T) {
	g, err := NewImage(units.New(50, units.Mas), 128, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.Dim != 128 {
		t.Fatalf("dim = %d, want 128", g.Dim)
	}
	wantScale := 50.0 / 128.0
	if math.Abs(g.PixelScale-wantScale) > 1e-12 {
		t.Errorf("pixel scale = %g, want %g", g.PixelScale, wantScale)
	}

	// First sample sits at -fov/2; the positive endpoint is excluded.
	if math.Abs(g.X[0]+25) > 1e-12 {
		t.Errorf("X[0] = %g, want -25", g.X[0])
	}
	last := g.X[g.Dim-1]
	wantLast := 25 - wantScale
	if math.Abs(last-wantLast) > 1e-12 {
		t.Errorf("X[last] = %g, want %g", last, wantLast)
	}

	// Center pixel is exactly at the origin.
	c := g.CenterIndex()
	if g.Radius[c] != 0 {
		t.Errorf("radius at center = %g, want 0", g.Radius[c])
	}
}

func TestNewImageRejectsOddDim(t *testing.T) {
	if _, err := NewImage(units.New(50, units.Mas), 127, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("odd pixel count: got %v, want ErrInvalidParameter", err)
	}
	if _, err := NewImage(units.New(50, units.Mas), 0, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("zero pixel count: got %v, want ErrInvalidParameter", err)
	}
}

func TestInclinationValidation(t *testing.T) {
	cases := []struct {
		name string
		inc  Inclination
		ok   bool
	}{
		{"valid", Inclination{AxisRatio: 1.5, PosAngle: 45}, true},
		{"unit ratio", Inclination{AxisRatio: 1.0, PosAngle: 0}, true},
		{"ratio below one", Inclination{AxisRatio: 0.5, PosAngle: 45}, false},
		{"negative angle", Inclination{AxisRatio: 1.5, PosAngle: -10}, false},
		{"angle at 180", Inclination{AxisRatio: 1.5, PosAngle: 180}, false},
	}
	for _, tc := range cases {
		err := tc.inc.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%s: got %v, want ErrInvalidParameter", tc.name, err)
		}
	}
}

func TestInclinedGridCompressesMinorAxis(t *testing.T) {
	// Position angle 0: rotation is the identity and the y axis is
	// divided by the axis ratio.
	g, err := NewImage(units.New(32, units.Mas), 32, &Inclination{AxisRatio: 2, PosAngle: 0})
	if err != nil {
		t.Fatal(err)
	}
	flat, err := NewImage(units.New(32, units.Mas), 32, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k := range g.Y {
		if math.Abs(g.Y[k]-flat.Y[k]/2) > 1e-12 {
			t.Fatalf("Y[%d] = %g, want %g", k, g.Y[k], flat.Y[k]/2)
		}
		if math.Abs(g.X[k]-flat.X[k]) > 1e-12 {
			t.Fatalf("X[%d] = %g, want %g", k, g.X[k], flat.X[k])
		}
	}
}

func TestFrequenciesUnitConversion(t *testing.T) {
	// A 100 m baseline at 10 um is 1e7 wavelengths.
	uvs, err := Frequencies([]float64{100}, []float64{0}, units.New(10, units.Micron), nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(uvs[0].U-1e7) > 1 {
		t.Errorf("U = %g, want 1e7", uvs[0].U)
	}
	if uvs[0].V != 0 {
		t.Errorf("V = %g, want 0", uvs[0].V)
	}
}

func TestFrequenciesExpandWithInclination(t *testing.T) {
	incl := &Inclination{AxisRatio: 2, PosAngle: 0}
	uvs, err := Frequencies([]float64{0}, []float64{100}, units.New(10, units.Micron), incl)
	if err != nil {
		t.Fatal(err)
	}
	// At PA 0 the v coordinate is stretched by the axis ratio: the
	// frequency transform expands where the image transform compresses.
	if math.Abs(uvs[0].V-2e7) > 1 {
		t.Errorf("V = %g, want 2e7", uvs[0].V)
	}
}

func TestFrequenciesRotateWithPositionAngle(t *testing.T) {
	// Position angle 90 maps u to v and v to -u before the axis stretch.
	uvs, err := Frequencies([]float64{30, -12}, []float64{5, 44},
		units.New(10, units.Micron), &Inclination{AxisRatio: 1, PosAngle: 90})
	if err != nil {
		t.Fatal(err)
	}
	want := []UV{
		{U: 5e5, V: -3e6},
		{U: 4.4e6, V: 1.2e6},
	}
	if diff := cmp.Diff(want, uvs, cmpopts.EquateApprox(1e-9, 1e-3)); diff != "" {
		t.Errorf("rotated frequencies mismatch (-want +got):\n%s", diff)
	}
}

func TestEffectiveBaselinesFaceOn(t *testing.T) {
	// A face-on source (ratio 1) leaves baseline lengths unchanged.
	bl, err := EffectiveBaselines([]float64{30, 0, 40}, []float64{0, 50, 30},
		units.New(10, units.Micron), Inclination{AxisRatio: 1, PosAngle: 0})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{3e6, 5e6, 5e6}
	for i := range bl {
		if math.Abs(bl[i]-want[i]) > 1e-3*want[i] {
			t.Errorf("baseline %d = %g, want %g", i, bl[i], want[i])
		}
	}
}

func TestEffectiveBaselinesStretch(t *testing.T) {
	// With PA 0 a purely-v baseline lies along the stretched axis.
	bl, err := EffectiveBaselines([]float64{0}, []float64{100},
		units.New(10, units.Micron), Inclination{AxisRatio: 2, PosAngle: 0})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(bl[0]-2e7) > 1e4 {
		t.Errorf("stretched baseline = %g, want 2e7", bl[0])
	}
}

func TestEffectiveBaselinesMatchFrequencyNorm(t *testing.T) {
	// Both views of the inclination realize one transform: the effective
	// length equals the norm of the Frequencies coordinate.
	u := []float64{30, -12, 58, 0}
	v := []float64{5, 44, -19, 100}
	wl := units.New(10, units.Micron)
	incl := Inclination{AxisRatio: 1.7, PosAngle: 33}

	bl, err := EffectiveBaselines(u, v, wl, incl)
	if err != nil {
		t.Fatal(err)
	}
	uvs, err := Frequencies(u, v, wl, &incl)
	if err != nil {
		t.Fatal(err)
	}
	for i := range bl {
		want := math.Hypot(uvs[i].U, uvs[i].V)
		if math.Abs(bl[i]-want) > 1e-6*want {
			t.Errorf("baseline %d = %g, want frequency norm %g", i, bl[i], want)
		}
	}
}

func TestCacheReturnsSameGrid(t *testing.T) {
	c := NewCache()
	fov := units.New(50, units.Mas)
	g1, err := c.Image(fov, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := c.Image(fov, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g1 != g2 {
		t.Error("expected cached grid to be reused")
	}
	g3, err := c.Image(fov, 64, &Inclination{AxisRatio: 1.5, PosAngle: 30})
	if err != nil {
		t.Fatal(err)
	}
	if g3 == g1 {
		t.Error("inclined grid must not alias the flat grid")
	}
}
