package packager_test

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/packager"
)

func sampleEntries() []packager.Entry {
	return []packager.Entry{
		{Path: "exports/pack/deliverables/", IsDir: true},
		{Path: "BUNDLE_INFO.json", Bytes: []byte(`{"a":1}` + "\n")},
		{Path: "audit_log.ndjson", Bytes: []byte(`{"event":"x"}` + "\n")},
	}
}

func TestWriteDeterministic_IsByteIdenticalAcrossRuns(t *testing.T) {
	a, err := packager.WriteDeterministic(sampleEntries())
	require.NoError(t, err)
	b, err := packager.WriteDeterministic(sampleEntries())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestWriteDeterministic_EntriesAreSortedByPath(t *testing.T) {
	shuffled := []packager.Entry{
		{Path: "z.txt", Bytes: []byte("z")},
		{Path: "a.txt", Bytes: []byte("a")},
	}
	out, err := packager.WriteDeterministic(shuffled)
	require.NoError(t, err)

	r, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	require.Len(t, r.File, 2)
	assert.Equal(t, "a.txt", r.File[0].Name)
	assert.Equal(t, "z.txt", r.File[1].Name)
}

func TestWriteDeterministic_EpochMtimeAndEmptyComment(t *testing.T) {
	out, err := packager.WriteDeterministic(sampleEntries())
	require.NoError(t, err)

	r, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	assert.Empty(t, r.Comment)
	for _, f := range r.File {
		assert.Equal(t, int64(0), f.Modified.Unix())
	}
}

func TestWriteDeterministic_FileBytesRoundTrip(t *testing.T) {
	out, err := packager.WriteDeterministic([]packager.Entry{{Path: "a.txt", Bytes: []byte("hello")}})
	require.NoError(t, err)

	r, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	require.Len(t, r.File, 1)
	rc, err := r.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())
}
