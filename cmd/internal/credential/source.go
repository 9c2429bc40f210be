package credential

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a bearer token from a fixed value, an environment
// variable or an interactive prompt. The value is cached after the first
// successful retrieval.
type Source struct {
	static string
	envVar string
	prompt string

	lookupEnv func(string) (string, bool)
	terminal  func() bool
	read      func() ([]byte, error)
	out       io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a token source that uses static when non-empty, then
// envVar, and finally prompts on stderr.
func NewSource(static, envVar string) *Source {
	fd := int(os.Stdin.Fd())
	return &Source{
		static:    strings.TrimSpace(static),
		envVar:    strings.TrimSpace(envVar),
		prompt:    "Enter leaderboard API token: ",
		lookupEnv: os.LookupEnv,
		terminal:  func() bool { return term.IsTerminal(fd) },
		read:      func() ([]byte, error) { return term.ReadPassword(fd) },
		out:       os.Stderr,
	}
}

// Get returns the cached token or resolves it if this is the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.static != "" {
			s.value = s.static
			return
		}
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		if !s.terminal() {
			if s.envVar != "" {
				s.err = fmt.Errorf("API token required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("API token required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.out, s.prompt)
		raw, err := s.read()
		fmt.Fprintln(s.out)
		if err != nil {
			s.err = fmt.Errorf("failed to read token: %w", err)
			return
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			s.err = errors.New("API token cannot be empty")
			return
		}
		s.value = token
	})

	return s.value, s.err
}
