// Package catalog describes the capability groups advertised to clients on
// initialize.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

type Type string

const (
	TypeWallet      Type = "wallet"
	TypeTransaction Type = "transaction"
	TypeContract    Type = "contract"
	TypeToken       Type = "token"
)

// Capability is a named group of related methods. Values returned by Build
// are never mutated afterwards.
type Capability struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Methods     []string       `json:"methods"`
	Parameters  map[string]any `json:"parameters"`
}

// Lifecycle methods are dispatched like any other request but are not
// advertised as a capability.
var lifecycleMethods = map[string]struct{}{
	"initialize": {},
	"shutdown":   {},
}

type group struct {
	id          string
	kind        Type
	name        string
	description string
	methods     []string
	parameters  map[string]any
}

var groups = []group{
	{
		id:          "wallet",
		kind:        TypeWallet,
		name:        "Solana Wallet",
		description: "Manage Solana wallets and check balances",
		methods:     []string{"get_wallet_address", "get_wallet_balance"},
		parameters: map[string]any{
			"get_wallet_address": map[string]any{"wallet_name": "string, optional; default wallet when omitted"},
			"get_wallet_balance": map[string]any{"address": "base58 string, optional; default wallet when omitted"},
		},
	},
	{
		id:          "transaction",
		kind:        TypeTransaction,
		name:        "Solana Transactions",
		description: "Send Solana transactions",
		methods:     []string{"transfer_sol"},
		parameters: map[string]any{
			"transfer_sol": map[string]any{
				"from":        "wallet name, optional; default wallet when omitted",
				"to":          "base58 recipient address",
				"lamports":    "integer amount in lamports",
				"transaction": "base64 signed transaction",
			},
		},
	},
	{
		id:          "contract",
		kind:        TypeContract,
		name:        "Solana Smart Contracts",
		description: "Deploy and interact with Solana programs",
		methods:     []string{"deploy_contract", "call_contract"},
		parameters: map[string]any{
			"deploy_contract": map[string]any{
				"program_id":  "base58 program address",
				"transaction": "base64 signed deploy transaction",
			},
			"call_contract": map[string]any{
				"program_id":  "base58 program address",
				"transaction": "base64 signed invocation transaction",
				"simulate":    "boolean, optional; simulate instead of submitting",
			},
		},
	},
	{
		id:          "token",
		kind:        TypeToken,
		name:        "Solana Tokens",
		description: "Manage Solana tokens",
		methods:     []string{"get_token_accounts"},
		parameters: map[string]any{
			"get_token_accounts": map[string]any{
				"owner":      "base58 owner address, optional; default wallet when omitted",
				"mint":       "base58 mint address, optional",
				"program_id": "base58 token program, optional",
			},
		},
	},
}

// Build assembles the catalog and checks it against the registered method
// names: every advertised method must be dispatchable and every dispatchable
// method other than the lifecycle pair must be advertised.
func Build(registered []string) ([]Capability, error) {
	known := make(map[string]struct{}, len(registered))
	for _, m := range registered {
		known[m] = struct{}{}
	}

	advertised := make(map[string]struct{})
	out := make([]Capability, 0, len(groups))
	for _, g := range groups {
		for _, m := range g.methods {
			if _, ok := known[m]; !ok {
				return nil, fmt.Errorf("capability %q advertises unregistered method %q", g.id, m)
			}
			advertised[m] = struct{}{}
		}
		out = append(out, Capability{
			ID:          g.id,
			Type:        g.kind,
			Name:        g.name,
			Description: g.description,
			Methods:     append([]string(nil), g.methods...),
			Parameters:  copyParameters(g.parameters),
		})
	}

	var missing []string
	for m := range known {
		if _, ok := lifecycleMethods[m]; ok {
			continue
		}
		if _, ok := advertised[m]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("registered methods missing from catalog: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func copyParameters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyParameters(nested)
			continue
		}
		out[k] = v
	}
	return out
}
