package access

import (
	"errors"
	"sync"

	"github.com/open-policy-agent/opa/rego"
)

// queryCache keeps prepared queries per data path until the next policy
// activation.
type queryCache struct {
	sync.Mutex
	cache map[string]*rego.PreparedEvalQuery
}

func newQueryCache() *queryCache {
	return &queryCache{cache: map[string]*rego.PreparedEvalQuery{}}
}

func (qc *queryCache) Get(key string, orElse func(string) (*rego.PreparedEvalQuery, error)) (*rego.PreparedEvalQuery, error) {
	qc.Lock()
	defer qc.Unlock()

	if result, ok := qc.cache[key]; ok {
		return result, nil
	}

	result, err := orElse(key)
	if err != nil {
		return nil, errors.Join(err, errors.New("failed to prepare policy query"))
	}

	qc.cache[key] = result
	return result, nil
}

func (qc *queryCache) Clear() {
	qc.Lock()
	defer qc.Unlock()

	qc.cache = make(map[string]*rego.PreparedEvalQuery)
}
