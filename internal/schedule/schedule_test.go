package schedule

import (
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.ParseInLocation(layout, value, time.Local)
	require.NoError(t, err)
	return tm
}

func TestParseRejectsBadSpecs(t *testing.T) {
	cases := []string{
		"* * * *",     // too few fields
		"* * * * * *", // too many fields
		"60 * * * *",  // minute out of range
		"* 24 * * *",  // hour out of range
		"* * 32 * *",  // day out of range
		"* * * 13 *",  // month out of range
		"* * * * 7",   // weekday out of range
		"a * * * *",   // not an integer
	}
	for _, c := range cases {
		_, err := Parse(c)
		require.Error(t, err, c)
		var badSpec *BadSpecError
		require.ErrorAs(t, err, &badSpec)
	}
}

func TestCronTick(t *testing.T) {
	s := MustParse("* * * * *")
	ref := mustTime(t, "2006-01-02T15:04:05", "2021-09-22T12:30:00")

	require.Equal(t, mustTime(t, "2006-01-02T15:04:05", "2021-09-22T12:31:00"), s.Next(ref, false))
	require.Equal(t, mustTime(t, "2006-01-02T15:04:05", "2021-09-22T12:29:00"), s.Previous(ref, false))
}

func TestCrossMonthRollover(t *testing.T) {
	s := MustParse("10 * 31 * *")
	ref := mustTime(t, "2006-01-02T15:04:05", "2021-02-25T12:10:00")

	require.Equal(t, mustTime(t, "2006-01-02T15:04:05", "2021-03-31T00:10:00"), s.Next(ref, true))
	require.Equal(t, mustTime(t, "2006-01-02T15:04:05", "2021-01-31T23:10:00"), s.Previous(ref, true))
}

func TestConjunctiveDayAndWeekday(t *testing.T) {
	// 2021-09-01 is a Wednesday (weekday=2). Pin both day=1 and a weekday
	// that does NOT land on day 1 in September: both must match (AND), so
	// September should be skipped entirely.
	s := MustParse("0 0 1 * 0") // day=1 AND weekday=Monday
	ref := mustTime(t, "2006-01-02T15:04:05", "2021-09-01T00:00:00")

	next := s.Next(ref, false)
	require.Equal(t, 1, next.Day())
	require.Equal(t, time.Monday, next.Weekday())
	require.True(t, next.After(ref))
}

func TestInclusiveFlag(t *testing.T) {
	s := MustParse("30 12 * * *")
	ref := mustTime(t, "2006-01-02T15:04:05", "2021-09-22T12:30:00")

	require.Equal(t, ref, s.Next(ref, true))
	require.Equal(t, ref, s.Previous(ref, true))
	require.True(t, s.Next(ref, false).After(ref))
	require.True(t, s.Previous(ref, false).Before(ref))
}

// TestScheduleLaws runs the testable properties from spec.md §8 over random
// references and random (but always-satisfiable) schedules.
func TestScheduleLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	randomSpec := func() string {
		field := func(lo, hi int, wildcardProb float64) string {
			if rng.Float64() < wildcardProb {
				return "*"
			}
			return strconv.Itoa(lo + rng.Intn(hi-lo+1))
		}
		return field(0, 59, 0.5) + " " + field(0, 23, 0.5) + " " + "*" + " " + "*" + " " + "*"
	}

	for i := 0; i < 200; i++ {
		s := MustParse(randomSpec())
		ref := time.Date(2021, time.Month(1+rng.Intn(12)), 1+rng.Intn(28), rng.Intn(24), rng.Intn(60), 0, 0, time.Local)

		nextIncl := s.Next(ref, true)
		require.False(t, nextIncl.Before(ref), "next(inclusive) must be >= reference")

		prevIncl := s.Previous(ref, true)
		require.False(t, prevIncl.After(ref), "previous(inclusive) must be <= reference")

		nextExcl := s.Next(ref, false)
		require.True(t, nextExcl.After(ref), "next(exclusive) must be > reference")

		prevExcl := s.Previous(ref, false)
		require.True(t, prevExcl.Before(ref), "previous(exclusive) must be < reference")
	}
}
