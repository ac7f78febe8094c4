package selection

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendreview/trendreview/internal/dataset"
)

func table(t *testing.T, rows int) *dataset.Snapshot {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,price\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "2024-01-%02d,%d\n", i+1, 8000+i)
	}
	snap, err := dataset.Parse("processed.csv", dataset.OriginServer, []byte(b.String()))
	require.NoError(t, err)
	return snap
}

func TestToggleAddRemove(t *testing.T) {
	s := NewSelector(5)
	s.Reset(8)

	st, err := s.Toggle(3)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, st.Indices)

	st, err = s.Toggle(3)
	require.NoError(t, err)
	assert.Empty(t, st.Indices)
	assert.Equal(t, 0, s.Count())
}

func TestToggleRejectsBeyondMax(t *testing.T) {
	s := NewSelector(5)
	s.Reset(8)
	for _, i := range []int{7, 1, 5, 0, 3} {
		_, err := s.Toggle(i)
		require.NoError(t, err)
	}

	st, err := s.Toggle(2)
	require.ErrorIs(t, err, ErrSelectionLimitExceeded)
	assert.Equal(t, []int{0, 1, 3, 5, 7}, st.Indices, "state must be unchanged")
	assert.True(t, st.Full())
	assert.Equal(t, 5, s.Count())

	// removing from a full selection always works
	st, err = s.Toggle(5)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Count())

	_, err = s.Toggle(2)
	require.NoError(t, err)
}

func TestToggleOutOfRange(t *testing.T) {
	s := NewSelector(5)
	s.Reset(3)

	_, err := s.Toggle(3)
	assert.ErrorIs(t, err, ErrRowOutOfRange)
	_, err = s.Toggle(-1)
	assert.ErrorIs(t, err, ErrRowOutOfRange)
	assert.Equal(t, 0, s.Count())
}

func TestSelectionNeverExceedsMax(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewSelector(5)
	s.Reset(20)
	for i := 0; i < 1000; i++ {
		_, _ = s.Toggle(rng.Intn(20))
		require.LessOrEqual(t, s.Count(), 5)
	}
}

func TestMaterializeAscendingOrder(t *testing.T) {
	full := table(t, 8)
	s := NewSelector(5)
	s.Reset(full.Len())
	for _, i := range []int{2, 0, 4} {
		_, err := s.Toggle(i)
		require.NoError(t, err)
	}

	sel, err := s.Materialize(full)
	require.NoError(t, err)

	assert.Equal(t, dataset.OriginSelection, sel.Origin())
	assert.Equal(t, full.Header(), sel.Header())
	assert.Equal(t, [][]string{
		{"2024-01-01", "8000"},
		{"2024-01-03", "8002"},
		{"2024-01-05", "8004"},
	}, sel.Rows())
	assert.True(t, strings.HasPrefix(sel.Name(), "selected_data_"))
	assert.True(t, strings.HasSuffix(sel.Name(), ".csv"))
}

func TestMaterializeOrderIndependentOfClicks(t *testing.T) {
	full := table(t, 10)
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		picks := rng.Perm(10)[:1+rng.Intn(5)]
		s := NewSelector(5)
		s.Reset(full.Len())
		for _, i := range picks {
			_, err := s.Toggle(i)
			require.NoError(t, err)
		}

		sel, err := s.Materialize(full)
		require.NoError(t, err)

		rows := sel.Rows()
		require.Len(t, rows, len(picks))
		for j := 1; j < len(rows); j++ {
			assert.Less(t, rows[j-1][0], rows[j][0], "rows must be ascending for picks %v", picks)
		}
	}
}

func TestMaterializeEmpty(t *testing.T) {
	s := NewSelector(5)
	s.Reset(8)
	_, err := s.Materialize(table(t, 8))
	assert.ErrorIs(t, err, ErrEmptySelection)
}

func TestMaterializeAgainstShorterTable(t *testing.T) {
	s := NewSelector(5)
	s.Reset(8)
	_, err := s.Toggle(6)
	require.NoError(t, err)

	_, err = s.Materialize(table(t, 3))
	assert.ErrorIs(t, err, ErrRowOutOfRange)
}

func TestResetClearsSelection(t *testing.T) {
	s := NewSelector(0)
	assert.Equal(t, 5, s.Max())
	s.Reset(4)
	_, _ = s.Toggle(1)
	s.Reset(2)
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 2, s.State().Rows)
}

func TestFileName(t *testing.T) {
	ts := time.Date(2025, 3, 22, 14, 5, 9, 123_000_000, time.UTC)
	assert.Equal(t, "selected_data_20250322T140509.123.csv", FileName(ts))
}
