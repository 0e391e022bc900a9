package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want string // DD-MM-YYYY, empty for failure
	}{
		{"05/03/1999", "05-03-1999"},
		{"05-03-1999", "05-03-1999"},
		{"5.3.1999", "05-03-1999"},
		{"1999-03-05", "05-03-1999"},
		{"1999/03/05", "05-03-1999"},
		{"12 Mar 2005", "12-03-2005"},
		{"12 March 2005", "12-03-2005"},
		{"12-Mar-2005", "12-03-2005"},
		{"12th March, 2005", "12-03-2005"},
		{"March 12, 2005", "12-03-2005"},
		{"  01/01/2000.", "01-01-2000"},
		{"03/25/1999", "25-03-1999"},
		{"31/02/2000", ""},
		{"29/02/2001", ""},
		{"29/02/2000", "29-02-2000"},
		{"13/13/2000", ""},
		{"12 Foo 2005", ""},
		{"Male", ""},
		{"05/03/1999 Male", ""},
		{"", ""},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := Normalize(c.in)
			if c.want == "" {
				require.ErrorIs(t, err, ErrUnparsable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParse_MonthFirstPreference(t *testing.T) {
	got, err := Parse("05/03/1999", false)
	require.NoError(t, err)
	assert.Equal(t, time.May, got.Month())
	assert.Equal(t, 3, got.Day())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("05-03-1999", "1999-03-05"))
	assert.True(t, Equal("05-03-1999", "5 March 1999"))
	assert.False(t, Equal("05-03-1999", "03-05-1999"))
	assert.False(t, Equal("05-03-1999", "not a date"))
	assert.False(t, Equal("", ""))
}
