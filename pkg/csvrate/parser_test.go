package csvrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratepulse/ratepulse/pkg/ingesterr"
)

func TestParse_MissingDateColumn(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no header at all", ""},
		{"unrelated columns", "Day,Room_A1,Price_A1\n2025-01-01,Deluxe,1200"},
		{"date is a substring not a column", "CheckDate,Room_A1,Price_A1\n2025-01-01,Deluxe,1200"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.text)
			require.Error(t, err)
			assert.True(t, ingesterr.IsKind(err, ingesterr.KindFormat))
		})
	}
}

func TestParse_DateColumnIsCaseInsensitive(t *testing.T) {
	entries, err := Parse("DATE,Room_A1,Price_A1\n2025-01-01,Deluxe,1200")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2025-01-01", entries[0].CheckInDate)
}

func TestParse_RowYieldsUpToTwoEntries(t *testing.T) {
	text := "Date,Room_A1,Price_A1,Room_A2,Price_A2\n" +
		"2025-01-01,Single,900,Double,1400\n" +
		"2025-01-02,Single,950,,\n" +
		"2025-01-03,,,Double,1500\n"

	entries, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, Entry{CheckInDate: "2025-01-01", Adults: 1, RoomType: "Single", PriceAmount: 900}, entries[0])
	assert.Equal(t, Entry{CheckInDate: "2025-01-01", Adults: 2, RoomType: "Double", PriceAmount: 1400}, entries[1])
	assert.Equal(t, Entry{CheckInDate: "2025-01-02", Adults: 1, RoomType: "Single", PriceAmount: 950}, entries[2])
	assert.Equal(t, Entry{CheckInDate: "2025-01-03", Adults: 2, RoomType: "Double", PriceAmount: 1500}, entries[3])
}

func TestParse_InvalidPricesAreDroppedSilently(t *testing.T) {
	tests := []struct {
		name  string
		price string
	}{
		{"zero", "0"},
		{"negative", "-5"},
		{"non numeric", "abc"},
		{"empty", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := Parse("Date,Room_A1,Price_A1\n2025-01-01,Deluxe," + tc.price)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestParse_RoomWithoutPriceAndPriceWithoutRoom(t *testing.T) {
	entries, err := Parse("Date,Room_A1,Price_A1\n2025-01-01,Deluxe,\n2025-01-02,,1200")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParse_DateNormalization(t *testing.T) {
	t.Run("slash dates are zero padded", func(t *testing.T) {
		entries, err := Parse("Date,Room_A1,Price_A1\n3/4/2025,Deluxe,1200")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "2025-03-04", entries[0].CheckInDate)
	})

	t.Run("iso dates pass through", func(t *testing.T) {
		entries, err := Parse("Date,Room_A1,Price_A1\n2025-03-04,Deluxe,1200")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "2025-03-04", entries[0].CheckInDate)
	})

	t.Run("malformed dates fail the parse", func(t *testing.T) {
		_, err := Parse("Date,Room_A1,Price_A1\n04.03.2025,Deluxe,1200")
		require.Error(t, err)
		assert.True(t, ingesterr.IsKind(err, ingesterr.KindFormat))
		assert.Contains(t, err.Error(), "line 2")
	})
}

func TestParse_HeaderSubstringMatchFirstWins(t *testing.T) {
	// two columns contain Price_A1; the first one is used
	text := "Date,My_Room_A1_Name,Old_Price_A1,New_Price_A1\n2025-01-01,Deluxe,800,999"
	entries, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(800), entries[0].PriceAmount)
}

func TestParse_BlankLinesAreSkipped(t *testing.T) {
	text := "Date,Room_A1,Price_A1\n\n2025-01-01,Deluxe,1200\n\n"
	entries, err := Parse(text)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParse_IsDeterministic(t *testing.T) {
	text := "Date,Room_A1,Price_A1,Room_A2,Price_A2\n" +
		"2025-01-01,Single,900,Double,1400\n" +
		"1/2/2025,Single,905,Double,1410\n"

	first, err := Parse(text)
	require.NoError(t, err)
	second, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
