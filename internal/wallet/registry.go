// Package wallet holds the named wallet addresses the server can act for.
// Only public addresses are retained; key material is dropped once an
// address has been derived from it.
package wallet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrNoDefault        = errors.New("no default wallet")
	ErrDuplicateWallet  = errors.New("duplicate wallet name")
	ErrDuplicateDefault = errors.New("more than one default wallet")
)

type Info struct {
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	IsDefault bool   `json:"is_default"`
}

// Registry is immutable after construction.
type Registry struct {
	byName map[string]Info
	order  []string
	def    string
}

// NewRegistry keeps infos in order. The entry marked IsDefault becomes the
// default; when none is marked, the first entry does.
func NewRegistry(infos []Info) (*Registry, error) {
	r := &Registry{byName: make(map[string]Info, len(infos))}
	marked := ""
	for _, in := range infos {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, errors.New("wallet name is required")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWallet, name)
		}
		addr, err := ValidateAddress(in.Address)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", name, err)
		}
		if in.IsDefault {
			if marked != "" {
				return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateDefault, marked, name)
			}
			marked = name
		}
		r.byName[name] = Info{Address: addr, Name: name}
		r.order = append(r.order, name)
	}
	switch {
	case marked != "":
		r.def = marked
	case len(r.order) > 0:
		r.def = r.order[0]
	}
	if r.def != "" {
		info := r.byName[r.def]
		info.IsDefault = true
		r.byName[r.def] = info
	}
	return r, nil
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

func (r *Registry) Get(name string) (Info, error) {
	if r != nil {
		if info, ok := r.byName[strings.TrimSpace(name)]; ok {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %s", ErrWalletNotFound, name)
}

func (r *Registry) Default() (Info, error) {
	if r == nil || r.def == "" {
		return Info{}, ErrNoDefault
	}
	return r.byName[r.def], nil
}

// Resolve returns the named wallet, or the default when name is blank.
func (r *Registry) Resolve(name string) (Info, error) {
	if strings.TrimSpace(name) == "" {
		return r.Default()
	}
	return r.Get(name)
}

// List returns wallets in construction order.
func (r *Registry) List() []Info {
	if r == nil {
		return nil
	}
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
