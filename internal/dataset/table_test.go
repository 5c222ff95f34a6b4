package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := "Lane_ID,Origin Zip,Destination Zip\n1,30301,60601\n2,30301,94103\n3,,10001\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"Lane_ID", "Origin Zip", "Destination Zip"}, tbl.Columns)
	assert.Equal(t, 3, tbl.Len())

	col, err := tbl.Column("Origin Zip")
	require.NoError(t, err)
	assert.Equal(t, []string{"30301", "30301", ""}, col)
}

func TestReadCSVStripsBOM(t *testing.T) {
	in := "\xEF\xBB\xBFemail,name\na@b.com,Al\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, tbl.Columns)
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestRaggedRowsPadded(t *testing.T) {
	in := "A,B,C\n1,2\n4,5,6,7\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	c, err := tbl.Column("C")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "6"}, c)
}

func TestDistinct(t *testing.T) {
	tbl := New([]string{"GL"}, [][]string{{"AR"}, {"AP"}, {"AR"}, {""}, {"Cash"}})
	vals, err := tbl.Distinct("GL")
	require.NoError(t, err)
	assert.Equal(t, []string{"AR", "AP", "Cash"}, vals)

	_, err = tbl.Distinct("missing")
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	tbl := New([]string{"A", "B"}, [][]string{{"1", "2"}, {"3", "4"}, {"5", "6"}})
	rows := tbl.Sample(2)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0]["A"])
	assert.Equal(t, "4", rows[1]["B"])

	// Asking for more rows than exist clamps, as does a negative count.
	assert.Len(t, tbl.Sample(10), 3)
	assert.Empty(t, tbl.Sample(-1))
}

func TestReadAutoUnsupported(t *testing.T) {
	_, err := ReadAuto(strings.NewReader("x"), "report.pdf", "")
	assert.Error(t, err)
}
