package growth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/repogrowth/internal/growth"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want growth.Command
	}{
		{"ADD ada@example.com to Go Weekly", growth.Command{Verb: growth.VerbAdd, Address: "ada@example.com", Repository: "Go Weekly"}},
		{"  add Ada@Example.com TO golang  ", growth.Command{Verb: growth.VerbAdd, Address: "Ada@Example.com", Repository: "golang"}},
		{"stats Go Weekly", growth.Command{Verb: growth.VerbStats, Repository: "Go Weekly"}},
		{"Export golang", growth.Command{Verb: growth.VerbExport, Repository: "golang"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := growth.ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	malformed := []string{"", "   ", "ADD ada@example.com", "ADD ada@example.com into golang", "STATS", "export"}
	for _, line := range malformed {
		_, err := growth.ParseCommand(line)
		assert.ErrorIs(t, err, growth.ErrMalformedCommand, line)
	}

	_, err := growth.ParseCommand("DELETE golang")
	assert.ErrorIs(t, err, growth.ErrUnknownCommand)
}
