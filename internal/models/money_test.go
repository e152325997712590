package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMoney(t *testing.T) {
	t.Run("rounds to two fraction digits", func(t *testing.T) {
		m, err := NewMoney("10.005")
		assert.NoError(t, err)
		assert.Equal(t, "10.01", m.String())

		m, err = NewMoney("10.5")
		assert.NoError(t, err)
		assert.Equal(t, "10.50", m.String())
	})

	t.Run("negative amounts", func(t *testing.T) {
		m, err := NewMoney("-3")
		assert.NoError(t, err)
		assert.Equal(t, "-3.00", m.String())
		assert.True(t, m.IsNegative())
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := NewMoney("ten coins")
		assert.Error(t, err)
	})
}

func TestMoney_Arithmetic(t *testing.T) {
	a, _ := NewMoney("10.00")
	b, _ := NewMoney("0.10")

	// Repeated additions of 0.10 stay exact; float64 would drift here.
	sum := a
	for i := 0; i < 10; i++ {
		sum = sum.Add(b)
	}
	assert.Equal(t, "11.00", sum.String())

	assert.Equal(t, "9.90", a.Sub(b).String())
}

func TestMoney_JSON(t *testing.T) {
	t.Run("marshals as a fixed-point string", func(t *testing.T) {
		m, _ := NewMoney("10")
		out, err := json.Marshal(m)
		assert.NoError(t, err)
		assert.Equal(t, `"10.00"`, string(out))
	})

	t.Run("unmarshals a quoted string", func(t *testing.T) {
		var m Money
		assert.NoError(t, json.Unmarshal([]byte(`"12.345"`), &m))
		assert.Equal(t, "12.35", m.String())
	})

	t.Run("unmarshals a bare number", func(t *testing.T) {
		var m Money
		assert.NoError(t, json.Unmarshal([]byte(`7.5`), &m))
		assert.Equal(t, "7.50", m.String())
	})

	t.Run("null is zero", func(t *testing.T) {
		var m Money
		assert.NoError(t, json.Unmarshal([]byte(`null`), &m))
		assert.True(t, m.IsZero())
	})
}

func TestMoney_SQL(t *testing.T) {
	t.Run("binds as a fixed-point string", func(t *testing.T) {
		m, _ := NewMoney("10.5")
		v, err := m.Value()
		assert.NoError(t, err)
		assert.Equal(t, "10.50", v)
	})

	t.Run("scans the driver types postgres produces", func(t *testing.T) {
		var m Money
		assert.NoError(t, m.Scan([]byte("25.00")))
		assert.Equal(t, "25.00", m.String())

		assert.NoError(t, m.Scan("3.10"))
		assert.Equal(t, "3.10", m.String())

		assert.NoError(t, m.Scan(int64(4)))
		assert.Equal(t, "4.00", m.String())

		assert.NoError(t, m.Scan(nil))
		assert.True(t, m.IsZero())
	})
}
