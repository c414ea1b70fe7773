package tableio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapsemap/pkg/profile"
)

func writeSample(t *testing.T, path string) *profile.Table {
	t.Helper()
	tbl, err := profile.FromColumns("",
		profile.NewStringColumn("Metadata_Well", []string{"C02", "", "C03"}),
		profile.NewIntColumn("Metadata_FOV", []int64{1, 2, 3}),
		profile.NewBoolColumn("Metadata_flag", []bool{true, false, true}),
		profile.NewFloatColumn("Cells_Intensity", []float64{0.5, math.NaN(), 2}),
	)
	require.NoError(t, err)
	require.NoError(t, WriteParquet(context.Background(), path, tbl))
	return tbl
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.parquet")
	writeSample(t, path)

	got, err := ReadParquet(context.Background(), path, "")
	require.NoError(t, err)
	require.Equal(t, 3, got.NumRows())
	assert.Equal(t, []string{"Metadata_Well", "Metadata_FOV", "Metadata_flag", "Cells_Intensity"}, got.Names())

	wells, err := got.Strings("Metadata_Well")
	require.NoError(t, err)
	assert.Equal(t, []string{"C02", "", "C03"}, wells)

	fov, err := got.Column("Metadata_FOV")
	require.NoError(t, err)
	assert.Equal(t, profile.KindInt, fov.Kind())

	vals, err := got.Floats("Cells_Intensity")
	require.NoError(t, err)
	assert.Equal(t, 0.5, vals[0])
	assert.True(t, math.IsNaN(vals[1]))
	assert.Equal(t, 2.0, vals[2])

	flag, err := got.Column("Metadata_flag")
	require.NoError(t, err)
	assert.True(t, flag.Bool(0))
	assert.False(t, flag.Bool(1))
}

func TestReadParquetMissingFile(t *testing.T) {
	_, err := ReadParquet(context.Background(), filepath.Join(t.TempDir(), "nope.parquet"), "")
	require.ErrorIs(t, err, ErrNotExist)
}

func TestTextLists(t *testing.T) {
	dir := t.TempDir()

	fpath := filepath.Join(dir, "percentages.txt")
	require.NoError(t, WriteFloats(fpath, []float64{0.1, 0.5, 1}))
	fl, err := ReadFloats(fpath)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.5, 1}, fl)

	ipath := filepath.Join(dir, "seeds.txt")
	require.NoError(t, WriteInts(ipath, []int64{42, 7}))
	il, err := ReadInts(ipath)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 7}, il)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("1\n\nx\n"), 0o644))
	_, err = ReadInts(bad)
	assert.ErrorContains(t, err, "bad.txt:3")

	_, err = ReadFloats(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestCacheReturnsCopies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.parquet")
	writeSample(t, path)

	c, err := NewCache(2, "")
	require.NoError(t, err)

	a, err := c.Read(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, a.AddFloat("Cells_Intensity", []float64{9, 9, 9}))

	b, err := c.Read(context.Background(), path)
	require.NoError(t, err)
	vals, err := b.Floats("Cells_Intensity")
	require.NoError(t, err)
	assert.Equal(t, 0.5, vals[0])
	assert.Equal(t, 1, c.Len())
}
