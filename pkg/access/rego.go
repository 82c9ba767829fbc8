package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
)

// DefaultPolicyPath is queried when no path is configured.
const DefaultPolicyPath = "portal/access/decision"

// RegoEvaluator delegates decisions to an OPA policy. The policy receives
// {"resource", "slot", "response"} as input and answers either a boolean or
// an object with "granted", "join_url" and "contact".
type RegoEvaluator struct {
	path       string
	queryCache *queryCache
	store      storage.Store

	mtx      sync.RWMutex
	sources  map[string]string
	compiler *ast.Compiler
}

func NewRegoEvaluator(path string) (*RegoEvaluator, error) {
	if strings.Trim(path, "/") == "" {
		path = DefaultPolicyPath
	}

	if _, err := parseDataPath(path); err != nil {
		return nil, err
	}

	return &RegoEvaluator{
		path:       path,
		store:      inmem.New(),
		queryCache: newQueryCache(),
		sources:    map[string]string{},
	}, nil
}

func (e *RegoEvaluator) Evaluate(ctx context.Context, input EvaluationInput) Decision {
	decision, err := e.decision(ctx, input)
	if err != nil {
		slog.Error("policy evaluation failed",
			slog.String("resource", input.Resource),
			slog.String("path", e.path),
			slog.String("error", err.Error()),
		)
		return Decision{Verdict: Denied, Reason: "policy:error"}
	}
	return decision
}

func (e *RegoEvaluator) decision(ctx context.Context, input EvaluationInput) (Decision, error) {
	r, err := parseDataPath(e.path)
	if err != nil {
		return Decision{}, err
	}

	pq, err := e.queryCache.Get(r.String(), func(s string) (*rego.PreparedEvalQuery, error) {
		e.mtx.RLock()
		compiler := e.compiler
		e.mtx.RUnlock()
		if compiler == nil {
			return nil, errors.New("no policy loaded")
		}

		pq, err := rego.New(
			rego.Query(s),
			rego.Compiler(compiler),
			rego.Store(e.store),
		).PrepareForEval(ctx)
		if err != nil {
			return nil, err
		}

		return &pq, nil
	})
	if err != nil {
		return Decision{}, err
	}

	rs, err := pq.Eval(ctx, rego.EvalInput(map[string]any{
		"resource": input.Resource,
		"slot":     input.Slot,
		"response": input.Response,
	}))
	if err != nil {
		return Decision{}, err
	} else if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{Verdict: Denied, Reason: "policy:undefined"}, nil
	}

	return decisionFromValue(rs[0].Expressions[0].Value)
}

func decisionFromValue(value any) (Decision, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return Decision{Verdict: Granted, Reason: "policy:allow"}, nil
		}
		return Decision{Verdict: Denied, Reason: "policy:deny"}, nil
	case map[string]any:
		granted, _ := v["granted"].(bool)
		if !granted {
			return Decision{Verdict: Denied, Reason: "policy:deny"}, nil
		}
		return Decision{
			Verdict: Granted,
			Reason:  "policy:allow",
			JoinURL: firstString(v, []string{"join_url"}),
			Contact: firstString(v, []string{"contact"}),
		}, nil
	default:
		return Decision{}, fmt.Errorf("unexpected policy result of type %T", value)
	}
}

// Activate stores or replaces a policy module, recompiles the loaded set and
// drops prepared queries. A module that fails to compile leaves the previous
// set in place.
func (e *RegoEvaluator) Activate(ctx context.Context, path string, policyData string) error {
	e.mtx.Lock()
	err := e.activate(ctx, path, policyData)
	e.mtx.Unlock()
	if err != nil {
		return err
	}

	// cleared outside mtx, queryCache.Get takes mtx while holding its own lock
	e.queryCache.Clear()
	return nil
}

func (e *RegoEvaluator) activate(ctx context.Context, path string, policyData string) error {
	sources := make(map[string]string, len(e.sources)+1)
	for k, v := range e.sources {
		sources[k] = v
	}
	sources[path] = policyData

	compiler, err := ast.CompileModules(sources)
	if err != nil {
		return errors.Join(err, errors.New("failed to compile policy"))
	}

	txn, err := e.store.NewTransaction(ctx, storage.TransactionParams{Write: true})
	if err != nil {
		return err
	}

	err = e.store.UpsertPolicy(ctx, txn, path, []byte(policyData))
	if err != nil {
		e.store.Abort(ctx, txn)
		return err
	}

	err = e.store.Commit(ctx, txn)
	if err != nil {
		return err
	}

	e.sources = sources
	e.compiler = compiler
	return nil
}

func (e *RegoEvaluator) Ready() bool {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	return e.compiler != nil
}

func parseDataPath(s string) (ast.Ref, error) {
	s = "/" + strings.TrimPrefix(s, "/")

	path, ok := storage.ParsePath(s)
	if !ok {
		return nil, fmt.Errorf("invalid path: %s", s)
	}

	return path.Ref(ast.DefaultRootDocument), nil
}
