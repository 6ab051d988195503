package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISODate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2023-05-22T09:56:00+02:00", "2023-05-22"},
		{"2023-05-22T23:30:00Z", "2023-05-22"},
		{"2023-05-22T00:10:00+02:00", "2023-05-22"},
		{"2023-05-22T09:56:00", "2023-05-22"},
		{"2023-05-22", "2023-05-22"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseISODate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseISODate_Invalid(t *testing.T) {
	for _, in := range []string{"", "hier", "22/05/2023"} {
		_, err := ParseISODate(in)
		assert.Error(t, err, in)
	}
}

func TestParseFrenchDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"22 mai 2023 à 9h56", "2023-05-22"},
		{"3 février 2021", "2021-02-03"},
		{"3 fevrier 2021", "2021-02-03"},
		{"1er août 2024", "2024-08-01"},
		{"Publié le 14 décembre 2022 à 18h02", "2022-12-14"},
		{"7 sept. 2020", "2020-09-07"},
		{"9 Janvier 2019", "2019-01-09"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrenchDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFrenchDate_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"mis à jour récemment",
		"22 brumaire 2023",
		"31 février 2023",
		"122 mai 2023",
		"22 mai 20234",
	} {
		_, err := ParseFrenchDate(in)
		assert.Error(t, err, in)
	}
}
