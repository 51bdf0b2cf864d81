package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

const (
	TokenStartDate = "<start_date>"
	TokenEndDate   = "<end_date>"
	TokenDatabase  = "<database>"

	// DateLayout is how dates are rendered into commands.
	DateLayout = "2006-01-02"
)

var (
	ErrMissingParameter = fmt.Errorf("%w: template needs a parameter that was not given", apperr.ErrConfiguration)
	ErrNoPlaceholders   = fmt.Errorf("%w: template has none of %s, %s, %s", apperr.ErrConfiguration, TokenStartDate, TokenEndDate, TokenDatabase)
	ErrBadTemplate      = fmt.Errorf("%w: template cannot be split into arguments", apperr.ErrConfiguration)
)

// TemplateError reports a template that cannot be built with the given
// parameters.
type TemplateError struct {
	Template string
	Token    string
	Err      error
}

func (e *TemplateError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("command %q: no value given for %s: %v", e.Template, e.Token, e.Err)
	}
	return fmt.Sprintf("command %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Params are the run-time values substituted into a template. Nil means
// not supplied.
type Params struct {
	Start    *time.Time
	End      *time.Time
	Database *string
}

func (p Params) value(token string) (string, bool) {
	switch token {
	case TokenStartDate:
		if p.Start == nil {
			return "", false
		}
		return p.Start.Format(DateLayout), true
	case TokenEndDate:
		if p.End == nil {
			return "", false
		}
		return p.End.Format(DateLayout), true
	case TokenDatabase:
		if p.Database == nil {
			return "", false
		}
		return *p.Database, true
	}
	return "", false
}

var tokens = []string{TokenStartDate, TokenEndDate, TokenDatabase}

// Placeholders returns the tokens template contains, in canonical order.
func Placeholders(template string) []string {
	var out []string
	for _, tok := range tokens {
		if strings.Contains(template, tok) {
			out = append(out, tok)
		}
	}
	return out
}

// Validate checks that template has at least one placeholder and splits
// cleanly, without needing parameter values.
func Validate(template string) error {
	if len(Placeholders(template)) == 0 {
		return &TemplateError{Template: template, Err: ErrNoPlaceholders}
	}
	if _, err := split(template); err != nil {
		return err
	}
	return nil
}

// Build splits template into an argument vector and substitutes params into
// each argument. A substituted value always stays inside the argument it was
// placed in.
func Build(template string, params Params) ([]string, error) {
	present := Placeholders(template)
	if len(present) == 0 {
		return nil, &TemplateError{Template: template, Err: ErrNoPlaceholders}
	}
	values := make([]string, 0, 2*len(present))
	for _, tok := range present {
		v, ok := params.value(tok)
		if !ok {
			return nil, &TemplateError{Template: template, Token: tok, Err: ErrMissingParameter}
		}
		values = append(values, unmask(tok), v)
	}
	args, err := split(template)
	if err != nil {
		return nil, err
	}
	r := strings.NewReplacer(values...)
	for i, a := range args {
		args[i] = r.Replace(a)
	}
	return args, nil
}

// BuildString renders Build's result for logs.
func BuildString(template string, params Params) (string, error) {
	args, err := Build(template, params)
	if err != nil {
		return "", err
	}
	return Join(args), nil
}

// Join quotes args so the string reads back to the same vector.
func Join(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Quote returns s quoted for a POSIX shell when it needs quoting.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' || r == '/' || r == '=' || r == ':' || r == ',' || r == '+' || r == '@' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Tokens are masked before splitting because '<' and '>' are shell
// operators to the splitter.
var masks = strings.NewReplacer(
	TokenStartDate, "\x1fstart_date\x1f",
	TokenEndDate, "\x1fend_date\x1f",
	TokenDatabase, "\x1fdatabase\x1f",
)

func unmask(token string) string {
	return "\x1f" + strings.Trim(token, "<>") + "\x1f"
}

func split(template string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false
	args, err := p.Parse(masks.Replace(template))
	if err != nil {
		return nil, &TemplateError{Template: template, Err: errors.Join(ErrBadTemplate, err)}
	}
	if p.Position >= 0 {
		return nil, &TemplateError{Template: template, Err: fmt.Errorf("%w: shell operators are not supported", ErrBadTemplate)}
	}
	if len(args) == 0 {
		return nil, &TemplateError{Template: template, Err: ErrBadTemplate}
	}
	return args, nil
}
