package taxalist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artobs/taxongrid/internal/apperr"
)

func TestParseCommaWithHeader(t *testing.T) {
	in := "taxon_id,scientific_name,swedish_name\n1,Lutra lutra,utter\n2,Vulpes vulpes,rödräv\n"
	taxa, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, taxa, 2)
	assert.Equal(t, 1, taxa[0].TaxonID)
	assert.Equal(t, "Lutra lutra", taxa[0].ScientificName)
	assert.Equal(t, "utter", taxa[0].SwedishName)
}

func TestParseTabSeparated(t *testing.T) {
	in := "taxon_id\tscientific_name\n5\tCanis lupus\n"
	taxa, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, taxa, 1)
	assert.Equal(t, 5, taxa[0].TaxonID)
	assert.Equal(t, "Canis lupus", taxa[0].ScientificName)
}

func TestParseHeaderColumnsInAnyOrder(t *testing.T) {
	in := "swedish_name,taxon_id\nlodjur,7\n"
	taxa, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, taxa, 1)
	assert.Equal(t, 7, taxa[0].TaxonID)
	assert.Equal(t, "lodjur", taxa[0].SwedishName)
}

func TestParseLegacySingleColumn(t *testing.T) {
	in := "1\n2\n3\n"
	taxa, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, taxa, 3, "no header should be consumed")
	assert.Equal(t, 1, taxa[0].TaxonID)
	assert.Equal(t, 3, taxa[2].TaxonID)
}

func TestParseEmptyInputIsMissingInput(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.MissingInput, ae.Code)
}

func TestParseBadTaxonIDIsBadRequest(t *testing.T) {
	in := "taxon_id\nnotanumber\n"
	_, err := Parse(strings.NewReader(in))
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.BadRequest, ae.Code)
}

func TestParseSkipsBlankLines(t *testing.T) {
	in := "taxon_id\n1\n\n2\n"
	taxa, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, taxa, 2)
}
