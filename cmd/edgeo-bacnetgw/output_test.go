package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type sample struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value" yaml:"value"`
}

var (
	sampleHeaders = []string{"NAME", "VALUE"}
	sampleRows    = [][]string{{"Zone Temp", "21.5"}, {"Fan", "true"}}
	sampleDoc     = []sample{{Name: "Zone Temp", Value: 21.5}}
)

func render(t *testing.T, format string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	f := NewFormatter(format)
	f.SetWriter(&buf)
	err := f.Render(sampleDoc, sampleHeaders, sampleRows)
	return buf.String(), err
}

func TestRenderTable(t *testing.T) {
	out, err := render(t, "table")
	require.NoError(t, err)

	want := "NAME      VALUE \n" +
		"--------- ----- \n" +
		"Zone Temp 21.5  \n" +
		"Fan       true  \n"
	assert.Equal(t, want, out)
}

func TestRenderCSV(t *testing.T) {
	out, err := render(t, "csv")
	require.NoError(t, err)
	assert.Equal(t, "NAME,VALUE\nZone Temp,21.5\nFan,true\n", out)
}

func TestRenderJSON(t *testing.T) {
	out, err := render(t, "json")
	require.NoError(t, err)

	var got []sample
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, sampleDoc, got)
}

func TestRenderYAML(t *testing.T) {
	out, err := render(t, "yaml")
	require.NoError(t, err)

	var got []sample
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, sampleDoc, got)
	assert.Contains(t, out, "name: Zone Temp")
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := render(t, "xml")
	assert.Error(t, err)
}
