package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	testCases := []struct {
		in       string
		expected Mode
		ok       bool
	}{
		{in: "cashtoonline", expected: CashToOnline, ok: true},
		{in: "CashToOnline", expected: CashToOnline, ok: true},
		{in: " onlinetocash ", expected: OnlineToCash, ok: true},
		{in: "barter", ok: false},
		{in: "", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			mode, ok := ParseMode(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, mode)
		})
	}
}

func TestModeOpposite(t *testing.T) {
	assert.Equal(t, OnlineToCash, CashToOnline.Opposite())
	assert.Equal(t, CashToOnline, OnlineToCash.Opposite())
}

func TestRequestBefore(t *testing.T) {
	now := time.Now()
	a := &ExchangeRequest{Seq: 1, CreatedAt: now}
	b := &ExchangeRequest{Seq: 2, CreatedAt: now.Add(-time.Second)}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
}

func TestMatchSides(t *testing.T) {
	m := &Match{RequestA: "a", RequestB: "b"}

	side, ok := m.SideOf("b")
	assert.True(t, ok)
	assert.Equal(t, SideB, side)

	_, ok = m.SideOf("c")
	assert.False(t, ok)
	_, ok = m.SideOf("")
	assert.False(t, ok)

	m.VerifiedA = true
	assert.True(t, m.Verified(SideA))
	assert.False(t, m.BothVerified())
	m.VerifiedB = true
	assert.True(t, m.BothVerified())
}

func TestValidationError(t *testing.T) {
	var v ValidationError
	assert.NoError(t, v.Err())

	v.Add("amount", "must be positive")
	v.Add("phone", "required")
	assert.EqualError(t, v.Err(), "invalid input: amount: must be positive; phone: required")
}
