package models

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.01", "10000000000000000"},
		{"0.25", "250000000000000000"},
		{"1", "1000000000000000000"},
		{"0", "0"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseUnits(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, got.String())
		})
	}

	_, err := ParseUnits("-1")
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = ParseUnits("0.0000000000000000001")
	assert.Error(t, err)

	_, err = ParseUnits("abc")
	assert.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "0.04", FormatUnits(big.NewInt(40000000000000000)))
	assert.Equal(t, "0", FormatUnits(nil))
}

func TestParseWei(t *testing.T) {
	v, err := ParseWei("10000000000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(10000000000000000), v.Int64())

	_, err = ParseWei("1.5")
	assert.Error(t, err)

	_, err = ParseWei("-3")
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestDrawNotEligibleError(t *testing.T) {
	var err error = &DrawNotEligibleError{Pool: big.NewInt(0), Players: 0, State: RaffleCalculating}
	assert.True(t, errors.Is(err, ErrDrawNotEligible))
	assert.Contains(t, err.Error(), "state=calculating")

	var target *DrawNotEligibleError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, RaffleCalculating, target.State)
}

func TestLotteryClone(t *testing.T) {
	l := Lottery{Players: []Address{"a"}, Pool: big.NewInt(5)}
	c := l.Clone()
	c.Players[0] = "b"
	c.Pool.SetInt64(9)
	assert.Equal(t, Address("a"), l.Players[0])
	assert.Equal(t, int64(5), l.Pool.Int64())
}
