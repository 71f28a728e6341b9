package growth

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/service/admission"
	"github.com/ignite/repogrowth/internal/service/csvexport"
)

// Verb is an inbound-email command verb.
type Verb string

const (
	VerbAdd    Verb = "ADD"
	VerbStats  Verb = "STATS"
	VerbExport Verb = "EXPORT"
)

// Command is a parsed email command line.
type Command struct {
	Verb       Verb
	Address    string // ADD only
	Repository string // repository name
}

// ParseCommand parses one command line:
//
//	ADD <email> to <RepositoryName>
//	STATS <RepositoryName>
//	EXPORT <RepositoryName>
//
// Verbs and the "to" keyword are case-insensitive. Repository names may
// contain spaces.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrMalformedCommand
	}
	verb := Verb(strings.ToUpper(fields[0]))
	rest := fields[1:]

	switch verb {
	case VerbAdd:
		if len(rest) < 3 || !strings.EqualFold(rest[1], "to") {
			return Command{}, fmt.Errorf("%w: want ADD <email> to <repository>", ErrMalformedCommand)
		}
		return Command{Verb: verb, Address: rest[0], Repository: strings.Join(rest[2:], " ")}, nil
	case VerbStats, VerbExport:
		if len(rest) == 0 {
			return Command{}, fmt.Errorf("%w: want %s <repository>", ErrMalformedCommand, verb)
		}
		return Command{Verb: verb, Repository: strings.Join(rest, " ")}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
}

// Reply carries the result of an executed command. Exactly one of the
// payload fields is set.
type Reply struct {
	Command   Command
	Admission *admission.Result
	Stats     *domain.EmailStats
	CSV       []byte
}

// Execute runs cmd on behalf of sender, the address the command came from.
func (e *Engine) Execute(ctx context.Context, sender string, cmd Command) (Reply, error) {
	repo, err := e.repos.GetByName(ctx, cmd.Repository)
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{Command: cmd}

	switch cmd.Verb {
	case VerbAdd:
		res, err := e.Admit(ctx, repo.ID, sender, AdmitInput{Address: cmd.Address})
		if err != nil {
			return reply, err
		}
		reply.Admission = &res
	case VerbStats:
		stats, err := e.Stats(ctx, repo.ID)
		if err != nil {
			return reply, err
		}
		reply.Stats = stats
	case VerbExport:
		body, err := e.Export(ctx, repo.ID, sender, csvexport.Filter{})
		if err != nil {
			return reply, err
		}
		reply.CSV = body
	default:
		return reply, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Verb)
	}
	return reply, nil
}
