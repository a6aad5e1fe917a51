package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	r, err := ParseRule("/build/src:/home/user/src/")
	require.NoError(t, err)
	assert.Equal(t, Rule{From: "/build/src", To: "/home/user/src"}, r)

	for _, bad := range []string{"", "/build", ":/home", "/build:"} {
		_, err := ParseRule(bad)
		assert.Error(t, err, "rule %q", bad)
	}
}

func TestMapper(t *testing.T) {
	m := New(
		Rule{From: "/build", To: "/home/user/proj"},
		Rule{From: "/build/vendor", To: "/opt/vendor"},
	)

	type arg struct {
		remote  string
		display string
	}

	args := []arg{
		{"/build/rtl/top.sv", "/home/user/proj/rtl/top.sv"},
		{"/build/vendor/ip.sv", "/opt/vendor/ip.sv"},
		{"/build", "/home/user/proj"},
		{"/buildx/a.sv", "/buildx/a.sv"},
		{"/tmp/test.py", "/tmp/test.py"},
		{"test.py", "test.py"},
	}

	for _, a := range args {
		assert.Equal(t, a.display, m.ToDisplay(a.remote), "to display %s", a.remote)
		assert.Equal(t, a.remote, m.ToRemote(a.display), "to remote %s", a.display)
	}
}

func TestMapperRootPrefix(t *testing.T) {
	m := New(Rule{From: "/build", To: "/"})
	assert.Equal(t, "/a.sv", m.ToDisplay("/build/a.sv"))
	assert.Equal(t, "/build/a.sv", m.ToRemote("/a.sv"))
	assert.Equal(t, "/", m.ToDisplay("/build"))
}

func TestNilMapper(t *testing.T) {
	var m *Mapper
	assert.Equal(t, "/build/a.sv", m.ToDisplay("/build/a.sv"))
	assert.Equal(t, "a.sv", m.ToRemote("a.sv"))
	assert.Nil(t, m.Rules())
}

func TestParseRules(t *testing.T) {
	m, err := ParseRules([]string{"/build:/src"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/build": "/src"}, m.Rules())

	_, err = ParseRules([]string{"nocolon"})
	assert.Error(t, err)
}
