package grid

import (
	"slices"
	"sync"

	"github.com/Sh00ty/projected-grid/internal/models"
)

// Interceptor is offered every candidate before it reaches the registry.
// Returning false rejects the candidate as far as this interceptor is
// concerned, the returned member is what gets admitted on acceptance.
type Interceptor interface {
	PreAdd(member *models.GridMember, grid *Grid) (*models.GridMember, bool)
}

type InterceptorFunc func(member *models.GridMember, grid *Grid) (*models.GridMember, bool)

func (f InterceptorFunc) PreAdd(member *models.GridMember, grid *Grid) (*models.GridMember, bool) {
	return f(member, grid)
}

// InterceptorChain asks interceptors in order and stops at the first one that
// accepts. An empty chain accepts everything unchanged.
type InterceptorChain struct {
	mu           sync.RWMutex
	interceptors []Interceptor
}

func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

func (c *InterceptorChain) Add(interceptor Interceptor) error {
	if interceptor == nil {
		return ErrNilInterceptor
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interceptors = append(c.interceptors, interceptor)
	return nil
}

// Set replaces all interceptors. Nothing changes if any of them is nil.
func (c *InterceptorChain) Set(interceptors []Interceptor) error {
	for _, interceptor := range interceptors {
		if interceptor == nil {
			return ErrNilInterceptor
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interceptors = slices.Clone(interceptors)
	return nil
}

func (c *InterceptorChain) Interceptors() []Interceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.interceptors)
}

func (c *InterceptorChain) PreAdd(member *models.GridMember, grid *Grid) (*models.GridMember, bool) {
	interceptors := c.Interceptors()
	if len(interceptors) == 0 {
		return member, true
	}
	for _, interceptor := range interceptors {
		admitted, ok := interceptor.PreAdd(member, grid)
		if ok && admitted != nil {
			return admitted, true
		}
	}
	return nil, false
}
