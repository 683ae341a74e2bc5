// internal/size/size_test.go
package size

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Literal
	}{
		{"absolute pixels", "120px", Literal{Value: 120, Unit: Pixels}},
		{"pixels are truncated", "99.9px", Literal{Value: 99, Unit: Pixels}},
		{"viewport height", "50vh", Literal{Value: 50, Unit: ViewportHeight}},
		{"fractional viewport width", "33.5vw", Literal{Value: 33.5, Unit: ViewportWidth}},
		{"surrounding whitespace", "  10px ", Literal{Value: 10, Unit: Pixels}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLiteral(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLiteral_Rejects(t *testing.T) {
	for _, input := range []string{"100", "100em", "", "px", "abcvw", "10 %", "1e19px", "1e300vw", "-2000000vh"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseLiteral(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))

			var fe *FormatError
			require.True(t, errors.As(err, &fe))
		})
	}
}

func TestToPixels(t *testing.T) {
	t.Run("absolute pixels resolve to themselves", func(t *testing.T) {
		for _, n := range []int{0, 1, 25, 317, 4096} {
			got, err := ToPixels(Literal{Value: float64(n), Unit: Pixels}.String(), 1280, 720)
			require.NoError(t, err)
			assert.Equal(t, float64(n), got)
		}
	})

	t.Run("viewport width percentage", func(t *testing.T) {
		got, err := ToPixels("25vw", 1280, 720)
		require.NoError(t, err)
		assert.Equal(t, 320.0, got)
	})

	t.Run("viewport height percentage", func(t *testing.T) {
		got, err := ToPixels("50vh", 1280, 720)
		require.NoError(t, err)
		assert.Equal(t, 360.0, got)
	})

	t.Run("unknown unit", func(t *testing.T) {
		_, err := ToPixels("10pt", 1280, 720)
		assert.ErrorIs(t, err, ErrFormat)
	})
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		raw   float64
		ratio float64
		want  int
	}{
		{0, 1, 0},
		{0, 3, 0},
		{1, 1, 25},
		{25, 1, 25},
		{26, 1, 50},
		{100, 2, 200},
		{101, 1.5, 175},
		{-1, 1, -25},
		{-26, 1, -50},
		{1e300, 1, 16777225},
		{MaxValue, 1e6, 16777225},
		{-1e19, 1, -16777225},
	}

	for _, tt := range tests {
		got := Quantize(tt.raw, tt.ratio)
		assert.Equal(t, tt.want, got, "Quantize(%v, %v)", tt.raw, tt.ratio)
		assert.Zero(t, got%Grid, "result must sit on the grid")
	}
}

func TestParseLiteral_OutOfRangeReason(t *testing.T) {
	_, err := ParseLiteral("1e19px")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "magnitude exceeds")

	l, err := ParseLiteral("1048576px")
	require.NoError(t, err, "the bound itself is accepted")
	assert.Equal(t, float64(MaxValue), l.Value)
}

func TestQuantize_Idempotent(t *testing.T) {
	for raw := -60.0; raw <= 600; raw += 7.3 {
		once := Quantize(raw, 1)
		assert.Equal(t, once, Quantize(float64(once), 1), "raw=%v", raw)
	}
}

func TestRatioSource(t *testing.T) {
	assert.Equal(t, 1.5, RatioSource{SystemXDPI: 144, LogicalXDPI: 96, DevicePixelRatio: 3}.Ratio())
	// -- legacy signal only wins when it indicates a ratio above 1 --
	assert.Equal(t, 2.0, RatioSource{SystemXDPI: 96, LogicalXDPI: 96, DevicePixelRatio: 2}.Ratio())
	assert.Equal(t, 1.0, RatioSource{}.Ratio())
}

func TestPixelRatio_Memoized(t *testing.T) {
	calls := 0
	pr := NewPixelRatio(func() RatioSource {
		calls++
		return RatioSource{DevicePixelRatio: float64(calls) + 1}
	})

	assert.Equal(t, 2.0, pr.Value())
	assert.Equal(t, 2.0, pr.Value())
	assert.Equal(t, 1, calls)

	assert.Equal(t, 3.0, FixedPixelRatio(3).Value())
}

func FuzzParseLiteral(f *testing.F) {
	f.Add("100px")
	f.Add("12.5vw")
	f.Add("-3vh")
	f.Fuzz(func(t *testing.T, s string) {
		l, err := ParseLiteral(s)
		if err != nil {
			assert.ErrorIs(t, err, ErrFormat)
			return
		}
		q := Quantize(l.ToPixels(1000, 1000), 2)
		assert.Zero(t, q%Grid)
		if l.Value >= 1 {
			assert.Positive(t, q)
		}
	})
}
