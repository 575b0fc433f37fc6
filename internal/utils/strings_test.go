package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "AAPL",
			expected: []string{"AAPL"},
		},
		{
			name:     "varied spacing",
			input:    "AAPL,  MSFT , NVDA",
			expected: []string{"AAPL", "MSFT", "NVDA"},
		},
		{
			name:     "only commas and spaces",
			input:    " , ,, ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCSV(tt.input))
		})
	}
}

func TestParseSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, ParseSymbols(" aapl, msft ,,nvda,AAPL"))
	assert.Nil(t, ParseSymbols(""))
}
