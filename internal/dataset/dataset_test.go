package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eightRows = `date,price,volume
2024-01-01,8100,10
2024-01-02,8120,11
2024-01-03,8090,9
2024-01-04,8150,14
2024-01-05,8170,12
2024-01-08,8160,13
2024-01-09,8200,15
2024-01-10,8230,16
`

// serverCopy returns raw's data as a server-produced file called name.
func serverCopy(t *testing.T, raw *Snapshot, name string) *Snapshot {
	t.Helper()
	snap, err := New(name, OriginServer, raw.Header(), raw.Rows())
	require.NoError(t, err)
	return snap
}

func TestParse(t *testing.T) {
	snap, err := Parse("prices.csv", OriginUpload, []byte(eightRows))
	require.NoError(t, err)

	assert.Equal(t, "prices.csv", snap.Name())
	assert.Equal(t, OriginUpload, snap.Origin())
	assert.Equal(t, []string{"date", "price", "volume"}, snap.Header())
	assert.Equal(t, 8, snap.Len())
	assert.Empty(t, snap.MalformedRows())

	row, ok := snap.Row(7)
	require.True(t, ok)
	assert.Equal(t, []string{"2024-01-10", "8230", "16"}, row)
	_, ok = snap.Row(8)
	assert.False(t, ok)
}

func TestParseKeepsRaggedRows(t *testing.T) {
	snap, err := Parse("ragged.csv", OriginUpload, []byte("a,b\n1,2\n3\n4,5,6\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, []int{1, 2}, snap.MalformedRows())
}

func TestParseStripsBOM(t *testing.T) {
	snap, err := Parse("bom.csv", OriginUpload, []byte("\ufeffdate,price\n2024-01-01,1\n"))
	require.NoError(t, err)
	assert.Equal(t, "date", snap.Header()[0])
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "\n\n", "   \n"} {
		_, err := Parse("empty.csv", OriginUpload, []byte(in))
		assert.ErrorIs(t, err, ErrEmptySnapshot, "input %q", in)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	snap, err := Parse("prices.csv", OriginUpload, []byte(eightRows))
	require.NoError(t, err)

	h := snap.Header()
	h[0] = "mutated"
	rows := snap.Rows()
	rows[0][0] = "mutated"

	assert.Equal(t, "date", snap.Header()[0])
	r, _ := snap.Row(0)
	assert.Equal(t, "2024-01-01", r[0])
}

func TestWithCell(t *testing.T) {
	snap, err := Parse("prices.csv", OriginUpload, []byte(eightRows))
	require.NoError(t, err)

	edited, err := snap.WithCell(2, 1, "8095")
	require.NoError(t, err)
	assert.Equal(t, OriginEdit, edited.Origin())

	r, _ := edited.Row(2)
	assert.Equal(t, "8095", r[1])
	orig, _ := snap.Row(2)
	assert.Equal(t, "8090", orig[1], "source snapshot must not change")

	_, err = snap.WithCell(8, 0, "x")
	assert.ErrorIs(t, err, ErrCellOutOfRange)
	_, err = snap.WithCell(0, 3, "x")
	assert.ErrorIs(t, err, ErrCellOutOfRange)
}

func TestBytesRoundTrip(t *testing.T) {
	snap, err := New("sel.csv", OriginSelection, []string{"date", "note"}, [][]string{{"2024-01-01", "up, strongly"}})
	require.NoError(t, err)

	data, err := snap.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "date,note\n2024-01-01,\"up, strongly\"\n", string(data))

	back, err := Parse("sel.csv", OriginServer, data)
	require.NoError(t, err)
	assert.Equal(t, snap.Rows(), back.Rows())
}

func TestValidateFilename(t *testing.T) {
	assert.NoError(t, ValidateFilename("prices.csv"))
	assert.NoError(t, ValidateFilename("/tmp/PRICES.CSV"))
	assert.ErrorIs(t, ValidateFilename("prices.xlsx"), ErrNotCSV)
	assert.ErrorIs(t, ValidateFilename("csv"), ErrNotCSV)
}

func TestStoreActiveAndSource(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Active())
	assert.Nil(t, s.Source())

	raw, _ := Parse("prices.csv", OriginUpload, []byte(eightRows))
	require.NoError(t, s.SetRaw(raw))
	assert.Same(t, raw, s.Active())
	assert.Same(t, raw, s.Source())

	edited, _ := raw.WithCell(0, 1, "1")
	require.NoError(t, s.SetEdited(edited))
	assert.Same(t, edited, s.Active())
	assert.Same(t, edited, s.Source())

	processed := serverCopy(t, raw, "processed.csv")
	require.NoError(t, s.SetProcessed(processed))
	assert.Same(t, processed, s.Active())
	assert.Same(t, edited, s.Source())

	assert.ErrorIs(t, s.SetRaw(nil), ErrEmptySnapshot)

	s.Reset()
	assert.Nil(t, s.Active())
	assert.False(t, s.Ready())
}

func TestStoreReadyFlag(t *testing.T) {
	s := NewStore()
	raw, _ := Parse("prices.csv", OriginUpload, []byte(eightRows))

	s.MarkReady()
	assert.False(t, s.Ready(), "no processed data yet")

	require.NoError(t, s.SetRaw(raw))
	require.NoError(t, s.SetProcessed(serverCopy(t, raw, "p.csv")))
	s.MarkReady()
	assert.True(t, s.Ready())

	sel, err := raw.Subset("selected.csv", OriginSelection, []int{0, 2})
	require.NoError(t, err)
	require.NoError(t, s.SetProcessed(sel))
	assert.True(t, s.Ready(), "a selection snapshot keeps the flag")

	require.NoError(t, s.SetProcessed(serverCopy(t, raw, "new.csv")))
	assert.False(t, s.Ready(), "a new processed file clears the flag")

	s.MarkReady()
	require.NoError(t, s.SetRaw(raw))
	assert.False(t, s.Ready())
	assert.Nil(t, s.Processed())
}

func TestStoreRestoreProcessed(t *testing.T) {
	s := NewStore()
	raw, _ := Parse("prices.csv", OriginUpload, []byte(eightRows))
	require.NoError(t, s.SetRaw(raw))
	prev := serverCopy(t, raw, "p.csv")
	require.NoError(t, s.SetProcessed(prev))

	sel, _ := raw.Subset("sel.csv", OriginSelection, []int{1})
	require.NoError(t, s.SetProcessed(sel))
	s.RestoreProcessed(prev, false)

	assert.Same(t, prev, s.Processed())
	assert.False(t, s.Ready())
}
