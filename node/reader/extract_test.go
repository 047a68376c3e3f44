package reader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSectionName(t *testing.T) {
	for in, want := range map[string]string{
		"1. Introduction":               "introduction",
		"4.3. Results and   Discussion": "results and discussion",
		"(2) Methods":                   "methods",
		"IV. Conclusion":                "conclusion",
		"I Introduction":                "introduction",
		"Discussion":                    "discussion",
		"ABSTRACT":                      "abstract",
	} {
		name, ok := SectionName(in)
		require.True(t, ok, in)
		require.Equal(t, want, name, in)
	}

	for _, in := range []string{"Mix Results", "Methods of the study", "2. Our approach", ""} {
		_, ok := SectionName(in)
		require.False(t, ok, in)
	}
}

func TestGuessDOI(t *testing.T) {
	lines := []Line{
		{Page: 1, Text: "Journal of Things"},
		{Page: 2, Text: "doi: 10.1234/abc.5678 published 2024"},
		{Page: 3, Text: "10.9999/late"},
	}
	require.Equal(t, "10.1234/abc.5678", GuessDOI(lines))

	require.Empty(t, GuessDOI([]Line{{Page: 1, Text: "no identifier"}, {Page: 3, Text: "10.9999/late"}}))
}

func TestStructure(t *testing.T) {
	long1 := strings.TrimSpace(strings.Repeat("alpha ", 15))
	long2 := strings.TrimSpace(strings.Repeat("beta ", 15))

	lines := []Line{
		{Page: 1, Y: 700, Size: 10, Text: "1. Introduction"},
		{Page: 1, Y: 680, Size: 10, Text: long1},
		{Page: 1, Y: 668, Size: 10, Text: "  " + long2 + "  "},
		{Page: 1, Y: 600, Size: 10, Text: "Short note"},
		{Page: 1, Y: 580, Size: 10, Text: "Figure 1: A   chart"},
		{Page: 2, Y: 700, Size: 12, Text: "IV. Results"},
		{Page: 2, Y: 680, Size: 10, Text: "too short to keep"},
	}

	want := "===introduction=== " + long1 + " " + long2 + " Figure 1: A chart ===results==="
	require.Equal(t, want, Structure(lines))
}

func TestStructureEmpty(t *testing.T) {
	require.Equal(t, "", Structure(nil))
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"rag", "vectors", "search"}, []string(splitList("rag, vectors;search ,", ",;")))
	require.Empty(t, splitList("  ", ",;"))
}

func TestSplitAuthorsKeepsCommaNames(t *testing.T) {
	require.Equal(t, []string{"Doe, Jane", "Roe, Richard"}, []string(splitList("Doe, Jane; Roe, Richard", ";")))
	require.Equal(t, []string{"Lovelace, Ada"}, []string(splitList("Lovelace, Ada", ";")))
}
