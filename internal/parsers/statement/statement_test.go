package statement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

func TestDetectEncoding(t *testing.T) {
	enc, err := DetectEncoding([]byte(":61:240321D12,34NTRF//R1\n:86:ACME"))
	require.NoError(t, err)
	assert.Equal(t, EncodingIndicator, enc)

	enc, err = DetectEncoding([]byte("DATE:2024-03-21|AMT:-1,00|CUR:EUR"))
	require.NoError(t, err)
	assert.Equal(t, EncodingStructured, enc)

	enc, err = DetectEncoding([]byte("2024-03-21;-1,00;EUR;ACME;Invoice"))
	require.NoError(t, err)
	assert.Equal(t, EncodingBooked, enc)

	_, err = DetectEncoding([]byte("garbage"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestParse_Structured(t *testing.T) {
	data := []byte(`DATE:2024-03-21|AMT:-12,34|CUR:EUR|NAME:ACME GmbH|SVWZ:Invoice 42|EREF:E2024-001
DATE:2024-03-22|AMT:250,00|CUR:EUR|NAME:Employer|SVWZ:Salary`)

	txns, stats, err := Parse(EncodingStructured, data)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, 2, stats.Imported)

	assert.Equal(t, "E2024-001", txns[0].ExternalID)
	assert.Equal(t, "ACME GmbH", txns[0].Beneficiary)
	assert.InDelta(t, -12.34, txns[0].Amount, 0.001)

	// No EREF: content hash id, still stable.
	assert.NotEmpty(t, txns[1].ExternalID)
	assert.InDelta(t, 250.00, txns[1].Amount, 0.001)
}

func TestParse_IndicatorSignDerivation(t *testing.T) {
	data := []byte(`:61:240321D12,34NTRF//REF1
:86:ACME GmbH Invoice 42
:61:240322C250,00NTRF//REF2
:86:Salary March
:61:240323RC12,34NTRF//REF3
:86:Chargeback`)

	txns, stats, err := Parse(EncodingIndicator, data)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, 3, stats.Imported)

	assert.InDelta(t, -12.34, txns[0].Amount, 0.001)
	assert.Equal(t, "ACME GmbH Invoice 42", txns[0].Description)
	assert.Equal(t, "REF1", txns[0].ExternalID)

	assert.InDelta(t, 250.00, txns[1].Amount, 0.001)
	assert.InDelta(t, 12.34, txns[2].Amount, 0.001)

	assert.Equal(t, time.Date(2024, 3, 21, 0, 0, 0, 0, time.UTC), txns[0].Date)
}

func TestParse_Booked(t *testing.T) {
	data := []byte(`2024-03-21;-12,34;EUR;ACME GmbH;Invoice 42
21.03.2024;-5,00;EUR;Bakery;Bread`)

	txns, stats, err := Parse(EncodingBooked, data)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, 2, stats.Imported)
	assert.Equal(t, "ACME GmbH", txns[0].Beneficiary)
}

func TestParse_UnparseableDateDroppedAndCounted(t *testing.T) {
	data := []byte(`DATE:not-a-date|AMT:-1,00|CUR:EUR|SVWZ:Broken
DATE:2024-03-21|AMT:-2,00|CUR:EUR|SVWZ:Fine`)

	txns, stats, err := Parse(EncodingStructured, data)
	require.NoError(t, err)

	require.Len(t, txns, 1)
	assert.Equal(t, 1, stats.Imported)
	assert.Equal(t, 1, stats.Skipped)
	require.NotEmpty(t, stats.RowErrors)
	assert.Contains(t, stats.RowErrors[0], "unparseable date")

	// The surviving record keeps its own date, not "now".
	assert.Equal(t, 2024, txns[0].Date.Year())
}

func TestParse_UnknownEncoding(t *testing.T) {
	_, _, err := Parse(Encoding("camt"), []byte("x"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}
