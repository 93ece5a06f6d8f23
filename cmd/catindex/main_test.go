package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTree = `title: Home
categories:
  - id: "1"
    title: Physics
    events:
      - id: p1
        title: Seminar
        start: 2024-01-05T10:00:00Z
        end: 2024-01-05T11:00:00Z
    categories:
      - id: "2"
        title: HEP
        events:
          - id: h1
            title: Workshop
            start: 2024-01-06T09:00:00Z
            end: 2024-01-07T17:00:00Z
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// setup writes the tree, builds the database and returns the --db flag.
func setup(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree.yaml")
	require.NoError(t, os.WriteFile(tree, []byte(testTree), 0o644))
	db := []string{"--db", filepath.Join(dir, "data", "catindex.db")}

	out, err := runCLI(t, append([]string{"build", "--tree", tree}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, "Indexed 2 events in 3 categories\n", out)
	return db
}

func eventIDs(out string) []string {
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		ids = append(ids, strings.SplitN(line, "\t", 2)[0])
	}
	return ids
}

func TestQuery(t *testing.T) {
	db := setup(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"root sees everything", []string{"--category", "0"}, []string{"p1", "h1"}},
		{"parent sees child events", []string{"--category", "1"}, []string{"p1", "h1"}},
		{"leaf category", []string{"--category", "2"}, []string{"h1"}},
		{"unknown category", []string{"--category", "42"}, nil},
		{"date index", []string{"--category", "2", "--index", "categoryDate"}, []string{"h1"}},
		{"flat calendar", []string{"--index", "calendar"}, []string{"h1", "p1"}},
		{"membership list", []string{"--category", "1", "--index", "category"}, []string{"h1", "p1"}},
		{"several categories", []string{"--category", "2,1"}, []string{"h1", "p1"}},
		{"several categories by date", []string{"--category", "2,1", "--index", "categoryDate"}, []string{"h1", "p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"query", "--from", "2024-01-01", "--to", "2024-01-31"}, tt.args...)
			out, err := runCLI(t, append(args, db...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, eventIDs(out))
		})
	}

	out, err := runCLI(t, append([]string{"query", "--from", "2024-01-06T12:00:00Z", "--to", "2024-01-31"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, eventIDs(out), "p1 ended before the range")
}

func TestQueryErrors(t *testing.T) {
	db := setup(t)

	_, err := runCLI(t, append([]string{"query", "--from", "yesterday", "--to", "2024-01-31"}, db...)...)
	assert.Error(t, err)

	_, err = runCLI(t, append([]string{"query", "--from", "2024-01-01", "--to", "2024-01-31", "--index", "nope"}, db...)...)
	assert.Error(t, err)

	_, err = runCLI(t, append([]string{"query", "--to", "2024-01-31"}, db...)...)
	assert.Error(t, err, "--from is required")
}

func TestDayAndMore(t *testing.T) {
	db := setup(t)

	out, err := runCLI(t, append([]string{"day", "--category", "1", "--date", "2024-01-07"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, eventIDs(out))

	out, err = runCLI(t, append([]string{"day", "--date", "2024-01-05", "--index", "calendarDay"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, eventIDs(out))

	out, err = runCLI(t, append([]string{"more", "--category", "2", "--after", "2024-01-06"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = runCLI(t, append([]string{"more", "--category", "1,2", "--after", "2024-01-07"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestCheckDumpStats(t *testing.T) {
	db := setup(t)

	out, err := runCLI(t, append([]string{"check"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, "No anomalies found\n", out)

	out, err = runCLI(t, append([]string{"dump", "--index", "calendar"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "-\tstart\t1704448800\tp1\n")

	_, err = runCLI(t, append([]string{"dump", "--index", "nope"}, db...)...)
	assert.Error(t, err)

	out, err = runCLI(t, append([]string{"stats"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Catalog: 3 categories, 2 events")
	assert.Contains(t, out, "categoryDayAll")
	assert.Contains(t, out, "Snapshots:")
}

func TestQueryBeforeBuild(t *testing.T) {
	db := []string{"--db", filepath.Join(t.TempDir(), "empty.db")}
	out, err := runCLI(t, append([]string{"query", "--from", "2024-01-01", "--to", "2024-01-31"}, db...)...)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseWhen(t *testing.T) {
	for _, s := range []string{"2024-01-05", "2024-01-05T10:00", "2024-01-05T10:00:00Z", "2024-01-05T11:00:00+01:00"} {
		got, err := parseWhen(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2024, got.Year(), s)
	}
	_, err := parseWhen("05/01/2024")
	assert.Error(t, err)
}
