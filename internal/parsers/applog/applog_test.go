package applog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anchor = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func TestParse_BasicBlocks(t *testing.T) {
	input := `REWE Markt
-23,45 €
21.03. Lastschrift

Gehalt
+2.500,00 €
01.03. Überweisung
`

	txns, stats, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Imported)
	require.Len(t, txns, 2)

	assert.Equal(t, "REWE Markt", txns[0].Description)
	assert.InDelta(t, -23.45, txns[0].Amount, 0.001)
	assert.Equal(t, "EUR", txns[0].Currency)
	assert.Equal(t, time.Date(2024, 3, 21, 0, 0, 0, 0, time.UTC), txns[0].Date)
	assert.Equal(t, "Lastschrift", txns[0].Raw["payment_type"])

	assert.InDelta(t, 2500.00, txns[1].Amount, 0.001)
}

func TestParse_QuotedNoteAndRecurrence(t *testing.T) {
	input := `Netflix
-12,99 €
15.04. Lastschrift
"Familienabo"
Wiederkehrende Zahlung
`

	txns, _, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	assert.Equal(t, "Familienabo", txns[0].Raw["note"])
	assert.Equal(t, true, txns[0].Raw["recurring"])
}

func TestParse_MonthHeaderEstablishesYear(t *testing.T) {
	input := `Dezember 2023
Weihnachtsmarkt
-40,00 €
19.12. Girocard
`

	txns, _, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	assert.Equal(t, 2023, txns[0].Date.Year())
	assert.Equal(t, time.December, txns[0].Date.Month())
}

func TestParse_FutureMonthBelongsToPreviousYear(t *testing.T) {
	// Anchor is May 2024; a November date without a header must be
	// November 2023.
	input := `Heizöl Müller
-450,00 €
02.11. Überweisung
`

	txns, _, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	assert.Equal(t, 2023, txns[0].Date.Year())
}

func TestParse_PastMonthStaysInCurrentYear(t *testing.T) {
	input := `Bäckerei
-3,20 €
02.02. Girocard
`

	txns, _, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	assert.Equal(t, 2024, txns[0].Date.Year())
}

func TestParse_BadBlockSkippedNotFatal(t *testing.T) {
	input := `Good Merchant
-5,00 €
01.04. Girocard
Bad Merchant
not an amount
02.04. Girocard
Another Good One
-7,00 €
03.04. Girocard
`

	txns, stats, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Imported)
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, txns, 2)
	require.Len(t, stats.RowErrors, 1)
	assert.Contains(t, stats.RowErrors[0], "Bad Merchant")
}

func TestParse_StableIDsAcrossRuns(t *testing.T) {
	input := `REWE Markt
-23,45 €
21.03. Lastschrift
`

	first, _, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)
	second, _, err := Parse(strings.NewReader(input), anchor)
	require.NoError(t, err)

	assert.Equal(t, first[0].ExternalID, second[0].ExternalID)
}
