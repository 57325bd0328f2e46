package types

import "strings"

// Asset identifies a fungible underlying token within the protocol. The zero
// value is the native settlement asset sentinel: markets never list it
// directly, but swap routes may terminate in it when a liquidator asks for
// native settlement.
type Asset string

// NativeAsset is the distinguished sentinel for the chain's native settlement
// asset.
const NativeAsset Asset = ""

// IsNative reports whether the asset is the native settlement sentinel.
func (a Asset) IsNative() bool { return a == NativeAsset }

// String renders the asset symbol, substituting a readable label for the
// native sentinel.
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return string(a)
}

// NormalizeAsset canonicalises an asset symbol to upper case. The empty string
// maps to the native sentinel.
func NormalizeAsset(symbol string) Asset {
	return Asset(strings.ToUpper(strings.TrimSpace(symbol)))
}
