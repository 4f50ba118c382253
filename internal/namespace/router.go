package namespace

import (
	"regexp"
	"sync"

	"github.com/cockroachdb/errors"
)

// DefaultNamespace is the namespace of records written without one.
const DefaultNamespace = ""

var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidateName accepts the default namespace or a name of up to 128
// characters from [A-Za-z0-9._:-] that starts with a letter or digit.
func ValidateName(name string) error {
	if name == DefaultNamespace || nameRE.MatchString(name) {
		return nil
	}
	return errors.Newf("invalid namespace name %q", name)
}

// RouterOptions configures namespace to downstream DB routing.
type RouterOptions struct {
	Routes    map[string]int
	DefaultDB int
	// Strict rejects namespaces that have no explicit route.
	Strict bool
}

// Router maps namespaces to downstream DB indexes. Safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	routes    map[string]int
	defaultDB int
	strict    bool
}

func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.DefaultDB < 0 {
		return nil, errors.Newf("default db must be >= 0, got %d", opts.DefaultDB)
	}
	r := &Router{routes: map[string]int{}, defaultDB: opts.DefaultDB, strict: opts.Strict}
	for name, db := range opts.Routes {
		if err := r.add(name, db); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Router) add(name string, db int) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if db < 0 {
		return errors.Newf("namespace %q: db must be >= 0, got %d", name, db)
	}
	r.routes[name] = db
	return nil
}

// Merge adds registry entries that have no configured route. Configured
// routes win.
func (r *Router) Merge(metas []Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range metas {
		if _, ok := r.routes[m.Name]; ok {
			continue
		}
		if err := r.add(m.Name, m.DB); err != nil {
			return err
		}
	}
	return nil
}

// Route returns the DB for ns. ok is false when the namespace is rejected:
// an invalid name, or an unrouted name under strict mode.
func (r *Router) Route(ns string) (db int, ok bool) {
	if ValidateName(ns) != nil {
		return 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if db, ok := r.routes[ns]; ok {
		return db, true
	}
	if r.strict {
		return 0, false
	}
	return r.defaultDB, true
}

// DBs returns every DB index the router can route to.
func (r *Router) DBs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[int]bool{r.defaultDB: true}
	out := []int{r.defaultDB}
	for _, db := range r.routes {
		if !seen[db] {
			seen[db] = true
			out = append(out, db)
		}
	}
	return out
}
