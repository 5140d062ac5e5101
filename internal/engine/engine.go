package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pfmt/internal/config"
	"pfmt/internal/db"
	"pfmt/internal/events"
	"pfmt/internal/repo"
	"pfmt/internal/validation"
)

type Engine struct {
	DB        *db.Gateway
	Repo      repo.Repo
	Events    events.Writer
	Bus       *events.Bus
	Config    *config.Config
	Validator validation.Validator
	Log       *zap.Logger
	Now       func() time.Time
}

func New(g *db.Gateway, cfg *config.Config, bus *events.Bus, log *zap.Logger) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	rules, err := validation.RulesFrom(cfg, nil)
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: g}
	return Engine{
		DB:        g,
		Repo:      r,
		Events:    events.Writer{},
		Bus:       bus,
		Config:    cfg,
		Validator: validation.New(rules, r),
		Log:       log,
		Now:       time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// validator binds the validation clock to the engine clock.
func (e Engine) validator() validation.Validator {
	v := e.Validator
	v.Rules.Now = e.now
	return v
}

func (e Engine) maxSteps() int {
	if e.Config != nil && e.Config.Wizard.MaxSteps > 0 {
		return e.Config.Wizard.MaxSteps
	}
	return 5
}

func newID() string {
	return uuid.NewString()
}

// txn is one unit of work. Events emitted through it are stored with the
// transaction and published only after commit.
type txn struct {
	q       db.Querier
	writer  events.Writer
	pending []events.Event
}

func (t *txn) emit(ctx context.Context, evt events.Event) error {
	if err := t.writer.Append(ctx, t.q, &evt); err != nil {
		return err
	}
	t.pending = append(t.pending, evt)
	return nil
}

func (e Engine) inTx(ctx context.Context, fn func(t *txn) error) error {
	w := e.Events
	w.Now = e.now
	var committed []events.Event
	err := e.DB.Transaction(ctx, func(q db.Querier) error {
		t := &txn{q: q, writer: w}
		if err := fn(t); err != nil {
			return err
		}
		committed = t.pending
		return nil
	})
	if err != nil {
		return err
	}
	e.Bus.Publish(ctx, committed...)
	return nil
}

const maxCodeAttempts = 3

// withProjectCode runs fn in a transaction with a freshly generated code
// for name. A concurrent insert that takes the same code retries; one that
// takes the same name becomes DUPLICATE_PROJECT_NAME.
func (e Engine) withProjectCode(ctx context.Context, name string, fn func(t *txn, code string) error) error {
	slug := Slug(name)
	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		err = e.inTx(ctx, func(t *txn) error {
			taken, err := e.Repo.ProjectNameExistsTx(ctx, t.q, name)
			if err != nil {
				return fmt.Errorf("check project name: %w", err)
			}
			if taken {
				return duplicateName()
			}
			code, err := e.Repo.NextProjectCode(ctx, t.q, slug)
			if err != nil {
				return fmt.Errorf("generate project code: %w", err)
			}
			return fn(t, code)
		})
		constraint := db.ViolatedConstraint(err)
		switch {
		case constraint == "":
			return err
		case strings.Contains(constraint, "name"):
			return duplicateName()
		case strings.Contains(constraint, "code"):
			e.Log.Warn("project code collision, retrying", zap.String("slug", slug), zap.Int("attempt", attempt+1))
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("allocate project code for %s: %w", slug, err)
}

func duplicateName() error {
	return invalidField("projectName", "a project with this name already exists", validation.CodeDuplicateName)
}

const maxSlugLen = 16

// Slug derives the code prefix from a project name: upper-case
// alphanumeric words joined by '-', at most 16 characters.
func Slug(name string) string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToUpper(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	slug := strings.Join(words, "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "PRJ"
	}
	return slug
}

func isStale(err error) bool {
	return errors.Is(err, repo.ErrStale)
}
