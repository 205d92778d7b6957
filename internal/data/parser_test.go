package data_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signal-insights/internal/data"
)

func TestParseRecord(t *testing.T) {
	rec, err := data.ParseRecord([]byte(`{"timestamp":"2024-01-01T00:00:00.010Z","value":-1.0}`))
	require.NoError(t, err)
	require.Equal(t, -1.0, rec.Value)
	require.True(t, rec.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 10*int(time.Millisecond), time.UTC)))
}

func TestParseRecordOffsetAndExtraFields(t *testing.T) {
	rec, err := data.ParseRecord([]byte(`{"timestamp":"2024-01-01T02:00:00+02:00","value":3,"device":"x"}`))
	require.NoError(t, err)
	require.Equal(t, 3.0, rec.Value)
	require.True(t, rec.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseRecordNumericString(t *testing.T) {
	rec, err := data.ParseRecord([]byte(`{"timestamp":"2024-01-01T00:00:00Z","value":"2.5"}`))
	require.NoError(t, err)
	require.Equal(t, 2.5, rec.Value)
}

func TestParseRecordErrors(t *testing.T) {
	cases := map[string]struct {
		line string
		want error
	}{
		"bad timestamp and value": {`{"timestamp": "bad", "value": "x"}`, data.ErrBadTimestamp},
		"missing value":           {`{"timestamp":"2024-01-01T00:00:00Z"}`, data.ErrMissingField},
		"null timestamp":          {`{"timestamp":null,"value":1}`, data.ErrMissingField},
		"numeric timestamp":       {`{"timestamp":12,"value":1}`, data.ErrBadTimestamp},
		"non numeric value":       {`{"timestamp":"2024-01-01T00:00:00Z","value":"x"}`, data.ErrNotNumeric},
		"bool value":              {`{"timestamp":"2024-01-01T00:00:00Z","value":true}`, data.ErrNotNumeric},
		"nan value":               {`{"timestamp":"2024-01-01T00:00:00Z","value":"NaN"}`, data.ErrNotNumeric},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := data.ParseRecord([]byte(tc.line))
			var perr *data.ParseError
			require.ErrorAs(t, err, &perr)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestParseRecordTruncatedLine(t *testing.T) {
	_, err := data.ParseRecord([]byte(`{"timestamp":"2024-01-01T00:00:00Z","val`))
	var perr *data.ParseError
	require.ErrorAs(t, err, &perr)
}
