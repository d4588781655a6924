package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldsDoNotOverwrite(t *testing.T) {
	d := Fields{"type": "audit", "env": "prod"}

	ev := Event{"type": "login"}
	d.Decorate(ev)

	require.Equal(t, "login", ev["type"])
	require.Equal(t, "prod", ev["env"])
}

func TestCloneIsIndependent(t *testing.T) {
	ev := Event{"a": 1}
	cp := ev.Clone()
	cp["a"] = 2
	cp["b"] = 3

	require.Equal(t, 1, ev["a"])
	require.NotContains(t, ev, "b")
}
