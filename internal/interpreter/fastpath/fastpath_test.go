package fastpath

import (
	"testing"

	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/textnorm"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		in   string
		want message.Command
		hit  bool
	}{
		{in: "retrocede por favor", want: message.Reverse, hit: true},
		{in: "Avanza", want: message.Advance, hit: true},
		{in: "ve hacia adelante", want: message.Advance, hit: true},
		{in: "regresa para atrás", want: message.Reverse, hit: true},
		{in: "atras", want: message.Reverse, hit: true},
		{in: "alto", want: message.Stop, hit: true},
		{in: "stop", want: message.Stop, hit: true},
		{in: "gira 90 grados a la derecha", want: message.Rotate90Right, hit: true},
		{in: "noventa a la izquierda", want: message.Rotate90Left, hit: true},
		{in: "derecha 90°", want: message.Rotate90Right, hit: true},
		{in: "360 a la derecha", want: message.Rotate360Right, hit: true},
		{in: "trescientos sesenta izquierda", want: message.Rotate360Left, hit: true},
		{in: "da una vuelta a la derecha", want: message.TurnRight, hit: true},
		{in: "girar izquierda", want: message.TurnLeft, hit: true},

		{in: "haz lo contrario de ir hacia atrás", hit: false},
		{in: "no avances", hit: false},
		{in: "derecha", hit: false},
		{in: "gira", hit: false},
		{in: "hola qué tal", hit: false},
		{in: "", hit: false},
		{in: "altozano", hit: false},
		{in: "avanzada", hit: false},
	}
	m := New()
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := m.Match(textnorm.Normalize(tc.in))
			require.Equal(t, tc.hit, ok)
			if tc.hit {
				require.Equal(t, tc.want, got)
			} else {
				require.Empty(t, got)
			}
		})
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	m := New()

	got, ok := m.Match("avanza y luego retrocede")
	require.True(t, ok)
	require.Equal(t, message.Advance, got)

	got, ok = m.Match("retrocede y para")
	require.True(t, ok)
	require.Equal(t, message.Reverse, got)

	// Angle rules precede the generic turn rules.
	got, ok = m.Match("vuelta derecha 360")
	require.True(t, ok)
	require.Equal(t, message.Rotate360Right, got)

	// Both sides mentioned: right-hand rules come first.
	got, ok = m.Match("gira a la izquierda o a la derecha 90")
	require.True(t, ok)
	require.Equal(t, message.Rotate90Right, got)
}

func TestMatchNeverUnrecognized(t *testing.T) {
	m := New()
	for _, r := range m.Rules() {
		require.NotEqual(t, message.Unrecognized, r.Command)
		require.True(t, r.Command.Recognized())
	}
	_, ok := m.Match("orden no reconocida")
	require.False(t, ok)
}

func TestExplain(t *testing.T) {
	m := New()
	r, ok := m.Explain("gira a la izquierda")
	require.True(t, ok)
	require.Equal(t, "left-turn", r.Name)

	_, ok = m.Explain("nunca gires a la izquierda")
	require.False(t, ok)
}

func TestRulesOrderAndCopy(t *testing.T) {
	m := New()
	rules := m.Rules()
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	require.Equal(t, []string{
		"advance", "reverse", "stop",
		"right-90", "left-90", "right-360", "left-360",
		"right-turn", "left-turn",
	}, names)

	rules[0].Command = message.Stop
	got, _ := m.Match("avanza")
	require.Equal(t, message.Advance, got)
}

func TestNegationMarkers(t *testing.T) {
	markers := NegationMarkers()
	require.Contains(t, markers, "contrario")
	markers[0] = "x"
	require.Equal(t, "no", NegationMarkers()[0])
}
