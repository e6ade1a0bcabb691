package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatISODuration(t *testing.T) {
	require.Equal(t, "PT0S", FormatISODuration(0))
	require.Equal(t, "PT5M", FormatISODuration(5*time.Minute))
	require.Equal(t, "PT1H30M", FormatISODuration(90*time.Minute))
	require.Equal(t, "PT1M10S", FormatISODuration(70*time.Second))
	require.Equal(t, "-PT10S", FormatISODuration(-10*time.Second))
	require.Equal(t, "PT0.5S", FormatISODuration(500*time.Millisecond))
}

func TestParseISODuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT0S":     0,
		"PT5M":     5 * time.Minute,
		"PT1H30M":  90 * time.Minute,
		"PT1M10S":  70 * time.Second,
		"-PT10S":   -10 * time.Second,
		"PT0.5S":   500 * time.Millisecond,
		"PT0,5S":   500 * time.Millisecond,
		"P1D":      24 * time.Hour,
		"P1DT2H":   26 * time.Hour,
		"+PT3S":    3 * time.Second,
		"PT3600S":  time.Hour,
	}
	for in, want := range cases {
		got, err := ParseISODuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseISODurationRoundTrips(t *testing.T) {
	for _, d := range []time.Duration{0, time.Second, -90 * time.Second, 26*time.Hour + 3*time.Minute} {
		got, err := ParseISODuration(FormatISODuration(d))
		require.NoError(t, err)
		require.Equal(t, d, got)
	}
}

func TestParseISODurationRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "P", "PT", "5M", "PT5X", "P5H", "PTM", "banana"} {
		_, err := ParseISODuration(in)
		require.Error(t, err, in)
	}
}
