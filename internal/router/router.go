package router

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

// Assembly errors.
var (
	ErrDuplicateRoute  = errors.New("duplicate route")
	ErrUngatedMutation = errors.New("mutating route must require a token")
	ErrInvalidRoute    = errors.New("invalid route")
	ErrMissingHook     = errors.New("missing hook")
)

// Guard selects the pre-handlers the assembler puts in front of a route.
type Guard int

const (
	// GuardToken requires a verified token.
	GuardToken Guard = iota
	// GuardNone lets the request through unauthenticated.
	GuardNone
)

// String implements fmt.Stringer.
func (g Guard) String() string {
	switch g {
	case GuardToken:
		return "token"
	case GuardNone:
		return "none"
	default:
		return fmt.Sprintf("guard(%d)", int(g))
	}
}

// HandlerFunc handles a request and returns either a payload or a failure.
// The table renders both.
type HandlerFunc func(c *gin.Context) util.Result[gin.H]

// Definition is one route contributed by a module.
type Definition struct {
	Method  string
	Path    string
	Guard   Guard
	Handler HandlerFunc
}

// Module is a feature contributing routes under a common prefix.
type Module[S any] struct {
	Name    string
	Prefix  string
	Version string
	Build   func(services S) []Definition
}

// Hooks are the shared pre-handler instances injected per Guard.
type Hooks struct {
	Token gin.HandlerFunc
}

// Route is an assembled route.
type Route struct {
	Module string
	Method string
	Path   string
	Guard  Guard

	handlers gin.HandlersChain
}

// Table is the immutable result of Assemble.
type Table struct {
	routes []Route
	logger observability.Logger
}

// Option configures Assemble.
type Option func(*Table)

// WithLogger sets the logger used for handler failures.
func WithLogger(logger observability.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

var mutatingMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

var knownMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Assemble builds the route table of modules. It reports every problem it
// finds: duplicate method and path pairs, mutating routes without a token
// guard, unknown guards and malformed definitions.
func Assemble[S any](modules []Module[S], services S, hooks Hooks, opts ...Option) (*Table, error) {
	t := &Table{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = observability.NopLogger()
	}

	var errs []error
	seen := make(map[string]string)

	for _, m := range modules {
		if m.Build == nil {
			errs = append(errs, fmt.Errorf("%w: module %q has no Build", ErrInvalidRoute, m.Name))
			continue
		}
		base, err := basePath(m.Version, m.Prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("module %q: %w", m.Name, err))
			continue
		}

		for _, def := range m.Build(services) {
			route, err := t.compile(m.Name, base, def, hooks)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			key := route.Method + " " + shape(route.Path)
			if owner, dup := seen[key]; dup {
				errs = append(errs, fmt.Errorf("%w: %s %s registered by %q and %q",
					ErrDuplicateRoute, route.Method, route.Path, owner, m.Name))
				continue
			}
			seen[key] = m.Name
			t.routes = append(t.routes, route)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

func (t *Table) compile(module, base string, def Definition, hooks Hooks) (Route, error) {
	method := strings.ToUpper(def.Method)
	path := joinPath(base, def.Path)
	where := fmt.Sprintf("%s %s (module %q)", method, path, module)

	if !slices.Contains(knownMethods, method) {
		return Route{}, fmt.Errorf("%w: %s: unknown method", ErrInvalidRoute, where)
	}
	if def.Handler == nil {
		return Route{}, fmt.Errorf("%w: %s: nil handler", ErrInvalidRoute, where)
	}

	var chain gin.HandlersChain
	switch def.Guard {
	case GuardToken:
		if hooks.Token == nil {
			return Route{}, fmt.Errorf("%w: %s: token hook not configured", ErrMissingHook, where)
		}
		chain = append(chain, hooks.Token)
	case GuardNone:
		if slices.Contains(mutatingMethods, method) {
			return Route{}, fmt.Errorf("%w: %s", ErrUngatedMutation, where)
		}
	default:
		return Route{}, fmt.Errorf("%w: %s: unknown guard %s", ErrInvalidRoute, where, def.Guard)
	}
	chain = append(chain, t.render(def.Handler))

	return Route{
		Module:   module,
		Method:   method,
		Path:     path,
		Guard:    def.Guard,
		handlers: chain,
	}, nil
}

// render adapts a HandlerFunc to gin and writes its result envelope.
func (t *Table) render(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := h(c).Get()
		if c.Writer.Written() {
			return
		}

		if err == nil {
			if data == nil {
				data = gin.H{}
			}
			c.JSON(http.StatusOK, util.Success(data))
			return
		}

		if util.KindOf(err) == util.KindInternal {
			t.logger.WithContext(c.Request.Context()).Error("request failed",
				observability.String("method", c.Request.Method),
				observability.String("route", c.FullPath()),
				observability.Error(err),
			)
		}
		_ = c.Error(err)
		c.JSON(util.Failure(err))
	}
}

// Routes returns a copy of the assembled routes.
func (t *Table) Routes() []Route {
	return slices.Clone(t.routes)
}

// Mount registers every route on r.
func (t *Table) Mount(r gin.IRoutes) (err error) {
	defer func() {
		// gin panics on paths its tree cannot hold side by side.
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidRoute, p)
		}
	}()

	for _, route := range t.routes {
		r.Handle(route.Method, route.Path, route.handlers...)
	}
	return nil
}

func basePath(version, prefix string) (string, error) {
	version = strings.Trim(version, "/")
	if version == "" || strings.Contains(version, "/") {
		return "", fmt.Errorf("%w: version %q must be one path segment", ErrInvalidRoute, version)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "/" + version, nil
	}
	return "/" + version + "/" + prefix, nil
}

func joinPath(base, path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}

// shape replaces parameter names so that "/:id" and "/:ImageId" collide.
func shape(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		switch {
		case strings.HasPrefix(s, ":"):
			segments[i] = ":"
		case strings.HasPrefix(s, "*"):
			segments[i] = "*"
		}
	}
	return strings.Join(segments, "/")
}
