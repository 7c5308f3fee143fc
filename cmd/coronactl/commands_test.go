package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	statesCSV = "date,state,fips,cases,deaths\n" +
		"2020-03-01,Ohio,39,5,0\n" +
		"2020-03-03,Ohio,39,9,1\n"
	countiesCSV = "date,county,state,fips,cases,deaths\n" +
		"2020-03-02,Franklin,Ohio,39049,2,0\n"
	countriesJSON = `{"Italy":[
		{"date":"2020-03-01","confirmed":1694,"deaths":34,"recovered":83},
		{"date":"2020-03-02","confirmed":2036,"deaths":52,"recovered":149}
	]}`
)

// serveFeeds points the feed URLs at a local server for the test.
func serveFeeds(t *testing.T, countries string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /states.csv", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, statesCSV) })
	mux.HandleFunc("GET /counties.csv", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, countiesCSV) })
	mux.HandleFunc("GET /timeseries.json", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, countries) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("STATES_URL", srv.URL+"/states.csv")
	t.Setenv("COUNTIES_URL", srv.URL+"/counties.csv")
	t.Setenv("COUNTRIES_URL", srv.URL+"/timeseries.json")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTop(t *testing.T) {
	serveFeeds(t, countriesJSON)

	out, err := execute(t, "top", "-n", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "PLACE")
	assert.Contains(t, lines[1], "Italy")
	assert.Contains(t, lines[1], "52")
	assert.Contains(t, lines[2], "US-Ohio")
}

func TestRange(t *testing.T) {
	serveFeeds(t, countriesJSON)

	out, err := execute(t, "range")
	require.NoError(t, err)
	assert.Equal(t, "2020-03-01 2020-03-03 3 days\n", out)
}

func TestLoad_WritesFilteredDataset(t *testing.T) {
	serveFeeds(t, countriesJSON)
	path := filepath.Join(t.TempDir(), "dataset.json")

	out, err := execute(t, "load", "--out", path, "--place", "US-Ohio", "--from", "2020-03-02")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"US-Ohio":[
		{"date":"2020-03-02","confirmed":5,"deaths":0,"recovered":null,"newCases":0,"newDeaths":0},
		{"date":"2020-03-03","confirmed":9,"deaths":1,"recovered":null,"newCases":4,"newDeaths":1}
	]}`, string(data))
}

func TestLoad_OutToUnwritablePathFails(t *testing.T) {
	serveFeeds(t, countriesJSON)
	path := filepath.Join(t.TempDir(), "missing", "dataset.json")

	_, err := execute(t, "load", "--out", path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestValidate_DefaultLayoutMatchesService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "countries.json")
	require.NoError(t, os.WriteFile(path, []byte(countriesJSON), 0o600))

	out, err := execute(t, "validate", "--kind", "countries", path)
	require.NoError(t, err)
	assert.Equal(t, "ok: 1 places, 2 entries\n", out)
}

func TestLoad_SourceFailureIsReported(t *testing.T) {
	serveFeeds(t, `{"Italy":[{"date":"not a date","confirmed":1,"deaths":0,"recovered":0}]}`)

	_, err := execute(t, "load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source countries")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "states.csv")
	require.NoError(t, os.WriteFile(good, []byte(statesCSV), 0o600))

	out, err := execute(t, "validate", "--kind", "states", good)
	require.NoError(t, err)
	assert.Equal(t, "ok: 1 places, 2 entries\n", out)

	bad := filepath.Join(dir, "countries.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"Italy":[{"date":"2020-3-1","confirmed":-1,"deaths":0,"recovered":0}]}`), 0o600))

	out, err = execute(t, "validate", "--kind", "countries", "--date-format", "flexible", bad)
	require.Error(t, err)
	assert.Contains(t, out, "Italy[0].confirmed")
}

func TestValidate_UnknownKind(t *testing.T) {
	_, err := execute(t, "validate", "--kind", "cities", "whatever.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--kind")
}
