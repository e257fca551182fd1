package ledger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder   AccountScope = iota // depositors, fee recipients
	AccountScopeVault                        // the vault itself
	AccountScopeStrategy                     // a strategy adapter's own wallet
	AccountScopeVenue                        // positions a strategy holds in an external venue
	AccountScopeExternal                     // outside-world boundary, may go negative
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	SubTypeWallet AccountSubType = iota
	SubTypeIdle
	SubTypePosition
	SubTypeStaked

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalSlippage
	SubTypeExternalRewards
	SubTypeExternalSwap
	SubTypeShareIssuance
)

var subTypeNames = map[AccountSubType]string{
	SubTypeWallet:              "wallet",
	SubTypeIdle:                "idle",
	SubTypePosition:            "position",
	SubTypeStaked:              "staked",
	SubTypeExternalDeposits:    "deposits",
	SubTypeExternalWithdrawals: "withdrawals",
	SubTypeExternalSlippage:    "slippage",
	SubTypeExternalRewards:     "rewards",
	SubTypeExternalSwap:        "swap",
	SubTypeShareIssuance:       "issuance",
}

var scopeNames = map[AccountScope]string{
	AccountScopeHolder:   "holder",
	AccountScopeVault:    "vault",
	AccountScopeStrategy: "strategy",
	AccountScopeVenue:    "venue",
	AccountScopeExternal: "external",
}

// --- Asset registry ---

// AssetID maps asset symbols to numeric IDs for performance
type AssetID uint16

// Asset describes a registered token.
type Asset struct {
	ID       AssetID
	Symbol   string
	Decimals int
}

// Assets are tracked at ledger precision (at most 9 decimals) so int64
// amounts cover realistic balances.
var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
		"QI":   3,
		"BPT":  4,
	}
	idToAsset = map[AssetID]Asset{
		1: {ID: 1, Symbol: "USDC", Decimals: 6},
		2: {ID: 2, Symbol: "USDT", Decimals: 6},
		3: {ID: 3, Symbol: "QI", Decimals: 8},
		4: {ID: 4, Symbol: "BPT", Decimals: 6},
	}
)

// RegisterAsset returns the ID for symbol, registering it on first use.
// Registering an existing symbol returns its ID unchanged.
func RegisterAsset(symbol string, decimals int) AssetID {
	assetMu.Lock()
	defer assetMu.Unlock()

	if id, ok := assetToID[symbol]; ok {
		return id
	}
	id := AssetID(len(idToAsset) + 1)
	for {
		if _, taken := idToAsset[id]; !taken {
			break
		}
		id++
	}
	assetToID[symbol] = id
	idToAsset[id] = Asset{ID: id, Symbol: symbol, Decimals: decimals}
	return id
}

func GetAssetID(symbol string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[symbol]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	a, ok := idToAsset[id]
	return a.Symbol, ok
}

func (id AssetID) String() string {
	if name, ok := GetAssetName(id); ok {
		return name
	}
	return fmt.Sprintf("asset%d", uint16(id))
}

func GetAsset(id AssetID) (Asset, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	a, ok := idToAsset[id]
	return a, ok
}

// --- Account keys ---

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	SubType  AccountSubType
	AssetID  AssetID
}

// HolderWallet is a depositor's (or fee recipient's) balance of an asset.
func HolderWallet(holder uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeHolder, EntityID: holder, SubType: SubTypeWallet, AssetID: assetID}
}

// VaultIdle is the vault's directly held balance of an asset.
func VaultIdle(vaultID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeVault, EntityID: vaultID, SubType: SubTypeIdle, AssetID: assetID}
}

// StrategyWallet is the loose balance a strategy holds outside any venue.
func StrategyWallet(strategyID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeStrategy, EntityID: strategyID, SubType: SubTypeWallet, AssetID: assetID}
}

// VenueAccount is a strategy's position inside an external venue.
func VenueAccount(strategyID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeVenue, EntityID: strategyID, SubType: subType, AssetID: assetID}
}

// External creates a key for external boundary accounts
func External(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: subType, AssetID: assetID}
}

// IsExternal reports whether the account sits outside the ledger boundary.
func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName := k.AssetID.String()

	if k.Scope == AccountScopeExternal {
		return fmt.Sprintf("external:%s:%s", subTypeNames[k.SubType], assetName)
	}
	scope, ok := scopeNames[k.Scope]
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%s:%s:%s", scope, uuid.UUID(k.EntityID).String(), subTypeNames[k.SubType], assetName)
}

func (k AccountKey) String() string {
	return k.AccountPath()
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	var key AccountKey
	var subName, assetName string

	switch {
	case len(parts) == 3 && parts[0] == "external":
		key.Scope = AccountScopeExternal
		subName, assetName = parts[1], parts[2]
	case len(parts) == 4:
		scope, ok := lookupScope(parts[0])
		if !ok || scope == AccountScopeExternal {
			return AccountKey{}, fmt.Errorf("unknown account scope in %q", path)
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("bad entity id in %q: %w", path, err)
		}
		key.Scope = scope
		key.EntityID = id
		subName, assetName = parts[2], parts[3]
	default:
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	sub, ok := lookupSubType(subName)
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown sub-type in %q", path)
	}
	key.SubType = sub

	assetID, ok := GetAssetID(assetName)
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset in %q", path)
	}
	key.AssetID = assetID

	return key, nil
}

func lookupScope(name string) (AccountScope, bool) {
	for s, n := range scopeNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

func lookupSubType(name string) (AccountSubType, bool) {
	for s, n := range subTypeNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}
