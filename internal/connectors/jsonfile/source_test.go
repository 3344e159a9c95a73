package jsonfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

func writeCorpus(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func drain(t *testing.T, s *Source) []*domain.RawRecord {
	t.Helper()
	var records []*domain.RawRecord
	for {
		rec, err := s.Next()
		require.NoError(t, err)
		if rec == nil {
			return records
		}
		records = append(records, rec)
	}
}

func TestSourceReadsBareArray(t *testing.T) {
	path := writeCorpus(t, "tests.json", `[
		{"issueKey": "K-1", "summary": "one"},
		{"issueKey": "K-2", "summary": "two"}
	]`)

	source, err := NewSource(path)
	require.NoError(t, err)
	defer source.Close()

	assert.Equal(t, "tests.json", source.ID())
	records := drain(t, source)
	require.Len(t, records, 2)
	assert.True(t, records[0].Has("issueKey"))
	assert.Equal(t, "tests.json", records[0].SourceID)
}

func TestSourceReadsRowsWrapper(t *testing.T) {
	path := writeCorpus(t, "wrapped.json", `{
		"exportedAt": "2025-06-01",
		"count": 1,
		"rows": [{"testCaseId": "C1", "title": "t"}]
	}`)

	source, err := NewSource(path)
	require.NoError(t, err)
	defer source.Close()

	records := drain(t, source)
	require.Len(t, records, 1)
	assert.True(t, records[0].Has("testCaseId"))
}

func TestSourceRewind(t *testing.T) {
	path := writeCorpus(t, "tests.json", `[{"issueKey": "K-1", "summary": "one"}]`)

	source, err := NewSource(path)
	require.NoError(t, err)
	defer source.Close()

	assert.Len(t, drain(t, source), 1)
	require.NoError(t, source.Rewind())
	assert.Len(t, drain(t, source), 1)
}

func TestSourceRejectsInvalidShapes(t *testing.T) {
	for name, body := range map[string]string{
		"scalar":  `42`,
		"no rows": `{"data": []}`,
		"broken":  `[{"a":`,
	} {
		t.Run(name, func(t *testing.T) {
			path := writeCorpus(t, "bad.json", body)
			source, err := NewSource(path)
			require.NoError(t, err)
			defer source.Close()

			_, err = source.Next()
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestSourceMissingFile(t *testing.T) {
	_, err := NewSource(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
