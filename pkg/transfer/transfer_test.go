package transfer

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func rampFunction() TransferFunction {
	return TransferFunction{
		ColorPoints: []ColorPoint{
			{Intensity: 0, Color: [4]float64{0, 0, 0, 1}},
			{Intensity: 100, Color: [4]float64{1, 0.5, 0.25, 1}},
		},
		AlphaPoints: []AlphaPoint{
			{Intensity: 0, Alpha: 0},
			{Intensity: 100, Alpha: 0.8},
		},
		Domain: Domain{Min: 0, Max: 100},
	}
}

// TestSanitizedBoundaries verifies the first and last points always equal the domain bounds
func TestSanitizedBoundaries(t *testing.T) {
	tf := TransferFunction{
		ColorPoints: []ColorPoint{
			{Intensity: 60, Color: [4]float64{0, 1, 0, 1}},
			{Intensity: 20, Color: [4]float64{1, 0, 0, 1}},
		},
		AlphaPoints: []AlphaPoint{
			{Intensity: 500, Alpha: 0.5}, // clamped to the domain max
			{Intensity: 30, Alpha: 0.1},
		},
		Domain: Domain{Min: 0, Max: 100},
	}

	s := tf.Sanitized()

	if len(s.ColorPoints) != 4 {
		t.Fatalf("Expected 4 color points after padding, got %d", len(s.ColorPoints))
	}
	if s.ColorPoints[0].Intensity != 0 || s.ColorPoints[0].Color != [4]float64{1, 0, 0, 1} {
		t.Errorf("Expected synthesized min point carrying red, got %+v", s.ColorPoints[0])
	}
	if s.ColorPoints[3].Intensity != 100 || s.ColorPoints[3].Color != [4]float64{0, 1, 0, 1} {
		t.Errorf("Expected synthesized max point carrying green, got %+v", s.ColorPoints[3])
	}

	if first := s.AlphaPoints[0]; first.Intensity != 0 || first.Alpha != 0.1 {
		t.Errorf("Expected alpha min point (0, 0.1), got %+v", first)
	}
	if last := s.AlphaPoints[len(s.AlphaPoints)-1]; last.Intensity != 100 || last.Alpha != 0.5 {
		t.Errorf("Expected clamped alpha point (100, 0.5), got %+v", last)
	}

	// The input must not be modified
	if tf.ColorPoints[0].Intensity != 60 {
		t.Error("Sanitized modified the receiver's control points")
	}
}

// TestSanitizedDeduplicates verifies the last write wins for equal intensities
func TestSanitizedDeduplicates(t *testing.T) {
	tf := TransferFunction{
		AlphaPoints: []AlphaPoint{
			{Intensity: 50, Alpha: 0.1},
			{Intensity: 0, Alpha: 0},
			{Intensity: 50, Alpha: 0.7},
			{Intensity: 100, Alpha: 1},
		},
		Domain: Domain{Min: 0, Max: 100},
	}

	s := tf.Sanitized()
	if len(s.AlphaPoints) != 3 {
		t.Fatalf("Expected 3 alpha points, got %d: %+v", len(s.AlphaPoints), s.AlphaPoints)
	}
	if s.AlphaPoints[1].Alpha != 0.7 {
		t.Errorf("Expected last write (0.7) to win, got %f", s.AlphaPoints[1].Alpha)
	}
}

// TestTableRoundTrip verifies the table reproduces the first and last control points
func TestTableRoundTrip(t *testing.T) {
	tf := rampFunction()
	table := Build(tf, DefaultResolution)

	if table.Resolution != DefaultResolution || len(table.Texels) != DefaultResolution*4 {
		t.Fatalf("Expected %d texels, got %d", DefaultResolution, len(table.Texels)/4)
	}

	tolerance := float32(1.0 / DefaultResolution)

	first := table.SampleIntensity(0)
	for k, want := range []float32{0, 0, 0, 0} {
		if diff := first[k] - want; diff > tolerance || diff < -tolerance {
			t.Errorf("First point component %d: expected %f, got %f", k, want, first[k])
		}
	}

	last := table.SampleIntensity(100)
	for k, want := range []float32{1, 0.5, 0.25, 0.8} {
		if diff := last[k] - want; diff > tolerance || diff < -tolerance {
			t.Errorf("Last point component %d: expected %f, got %f", k, want, last[k])
		}
	}

	mid := table.Sample(0.5)
	if math.Abs(float64(mid[3])-0.4) > 0.01 {
		t.Errorf("Expected mid alpha ~0.4, got %f", mid[3])
	}
}

// TestTableShift verifies the shift moves every control point
func TestTableShift(t *testing.T) {
	tf := TransferFunction{
		AlphaPoints: []AlphaPoint{
			{Intensity: 0, Alpha: 0},
			{Intensity: 10, Alpha: 0},
			{Intensity: 20, Alpha: 1},
			{Intensity: 100, Alpha: 1},
		},
		Domain: Domain{Min: 0, Max: 100},
	}
	plain := Build(tf, 101)
	tf.Shift = 30
	shifted := Build(tf, 101)

	if got := plain.SampleIntensity(20)[3]; math.Abs(float64(got)-1) > 1e-5 {
		t.Errorf("Expected alpha 1 at 20 without shift, got %f", got)
	}
	if got := shifted.SampleIntensity(20)[3]; got > 1e-5 {
		t.Errorf("Expected alpha 0 at 20 with shift 30, got %f", got)
	}
	if got := shifted.SampleIntensity(50)[3]; math.Abs(float64(got)-1) > 1e-5 {
		t.Errorf("Expected alpha 1 at 50 with shift 30, got %f", got)
	}
	if plain.Hash == shifted.Hash {
		t.Error("Expected shift to change the content hash")
	}
}

func TestSRGBLinearization(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{0.04045, 0.04045 / 12.92},
		{0.5, 0.21404114},
		{1, 1},
	}
	for _, tt := range tests {
		if got := SRGBToLinear(tt.in); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("SRGBToLinear(%f): expected %f, got %f", tt.in, tt.want, got)
		}
	}

	tf := TransferFunction{
		ColorPoints: []ColorPoint{{Intensity: 0, Color: [4]float64{0.5, 0.5, 0.5, 1}}},
		Domain:      Domain{Min: 0, Max: 1},
		ColorSpace:  ColorSpaceSRGB,
	}
	table := Build(tf, 16)
	if got := table.Sample(0)[0]; math.Abs(float64(got)-0.21404114) > 1e-5 {
		t.Errorf("Expected linearized red 0.214, got %f", got)
	}
}

// TestContentHash verifies equivalent functions hash equal after sanitization
func TestContentHash(t *testing.T) {
	a := rampFunction()
	b := rampFunction()
	b.ColorPoints = []ColorPoint{b.ColorPoints[1], b.ColorPoints[0]} // order differs
	b.Name = "renamed"

	if a.ContentHash() != b.ContentHash() {
		t.Error("Expected equal hashes for reordered control points")
	}

	b.ColorSpace = ColorSpaceSRGB
	if a.ContentHash() == b.ContentHash() {
		t.Error("Expected color space to change the hash")
	}
}

// TestCache verifies hits return the same table and keys include context and resolution
func TestCache(t *testing.T) {
	cache := NewCache()
	tf := rampFunction()

	t1, hit := cache.Table(1, tf, 256)
	if hit {
		t.Error("Expected miss on first lookup")
	}
	t2, hit := cache.Table(1, tf, 256)
	if !hit || t1 != t2 {
		t.Error("Expected hit returning the same table")
	}

	if _, hit := cache.Table(2, tf, 256); hit {
		t.Error("Expected miss for another context")
	}
	if _, hit := cache.Table(1, tf, 512); hit {
		t.Error("Expected miss for another resolution")
	}

	hits, misses := cache.Stats()
	if hits != 1 || misses != 3 {
		t.Errorf("Expected 1 hit and 3 misses, got %d and %d", hits, misses)
	}

	cache.Purge(1)
	if cache.Len() != 1 {
		t.Errorf("Expected 1 table after purge, got %d", cache.Len())
	}
}

// TestCacheConcurrent verifies concurrent lookups build a single table per key
func TestCacheConcurrent(t *testing.T) {
	cache := NewCache()
	tf := rampFunction()

	var wg sync.WaitGroup
	tables := make([]*Table, 16)
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tables[i], _ = cache.Table(7, tf, 128)
		}(i)
	}
	wg.Wait()

	for i, tbl := range tables {
		if tbl != tables[0] {
			t.Fatalf("Table %d differs from the first table", i)
		}
	}
	if _, misses := cache.Stats(); misses != 1 {
		t.Errorf("Expected exactly one build, got %d", misses)
	}
}

func TestToneCurve(t *testing.T) {
	linear, err := ToneCurvePreset("linear")
	if err != nil {
		t.Fatalf("Failed to load preset: %v", err)
	}
	if got := linear.Evaluate(0.25); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("Expected 0.25, got %f", got)
	}

	linear.Gain = 0.5
	lut := linear.LUT()
	if len(lut) != ToneCurveResolution {
		t.Fatalf("Expected %d entries, got %d", ToneCurveResolution, len(lut))
	}
	if math.Abs(float64(lut[ToneCurveResolution-1])-0.5) > 1e-6 {
		t.Errorf("Expected gain-scaled end 0.5, got %f", lut[ToneCurveResolution-1])
	}

	custom := DefaultToneCurve().WithPoints([]CurvePoint{{0.5, 0.2}})
	if custom.Preset != "custom" {
		t.Errorf("Expected custom preset name, got %s", custom.Preset)
	}
	if got := custom.Evaluate(0.9); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("Expected padded constant 0.2, got %f", got)
	}

	if _, err := ToneCurvePreset("missing"); err == nil {
		t.Error("Expected error for unknown preset")
	}
}

func TestPresets(t *testing.T) {
	names := PresetNames()
	if len(names) < 5 {
		t.Fatalf("Expected built-in presets, got %v", names)
	}

	bone, err := Preset("ct-bone")
	if err != nil {
		t.Fatalf("Failed to load preset: %v", err)
	}
	if bone.ColorSpace != ColorSpaceSRGB {
		t.Errorf("Expected srgb color space, got %v", bone.ColorSpace)
	}

	table := Build(bone, DefaultResolution)
	if air := table.SampleIntensity(-1000); air[3] != 0 {
		t.Errorf("Expected transparent air in ct-bone, got alpha %f", air[3])
	}
	if cortical := table.SampleIntensity(1500); cortical[3] <= 0.35 {
		t.Errorf("Expected opaque bone, got alpha %f", cortical[3])
	}

	if _, err := Preset("does-not-exist"); err == nil {
		t.Error("Expected error for unknown preset")
	}
}

func TestLoadPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	doc := `presets:
  - name: test-contrast
    domain: {min: 0, max: 10}
    alphas:
      - {intensity: 5, alpha: 1}
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write presets: %v", err)
	}

	names, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("Failed to load presets: %v", err)
	}
	if len(names) != 1 || names[0] != "test-contrast" {
		t.Errorf("Expected [test-contrast], got %v", names)
	}

	tf, err := Preset("test-contrast")
	if err != nil {
		t.Fatalf("Expected registered preset: %v", err)
	}
	if tf.Domain.Max != 10 {
		t.Errorf("Expected domain max 10, got %f", tf.Domain.Max)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("presets:\n  - name: broken\n    domain: {min: 5, max: 5}\n"), 0644); err != nil {
		t.Fatalf("Failed to write presets: %v", err)
	}
	if _, err := LoadPresets(bad); err == nil {
		t.Error("Expected error for empty domain")
	}
}
