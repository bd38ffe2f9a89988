package config

import (
	"fmt"
	"strings"
)

// DEX identifiers
const (
	DEXUniswapV3 = "uniswap_v3"
	DEXAerodrome = "aerodrome"
	DEXBaseSwap  = "baseswap"
	DEXSushiSwap = "sushiswap"
)

// TokenInfo contains metadata for a well-known Base token
type TokenInfo struct {
	Symbol   string
	Address  string
	Decimals int32
}

// BaseTokens lists the routing tokens on Base mainnet
var BaseTokens = map[string]TokenInfo{
	"WETH": {Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	"USDC": {Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
	"USDT": {Symbol: "USDT", Address: "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2", Decimals: 6},
}

// DEXPreset describes a router deployment on Base
type DEXPreset struct {
	ID          string
	DisplayName string
	Router      string
	Factory     string // empty when pair discovery is not supported
	Priority    int    // lower is preferred
	FeeTiers    []uint32
}

// BaseDEXes lists the supported DEXes on Base mainnet in priority order
var BaseDEXes = []DEXPreset{
	{
		ID:          DEXUniswapV3,
		DisplayName: "Uniswap V3",
		Router:      "0x2626664c2603336E57B271c5C0b26F421741e481",
		Factory:     "0x33128a8fC17869897dcE68Ed026d694621f6FDfD",
		Priority:    1,
		FeeTiers:    []uint32{100, 500, 3000, 10000},
	},
	{
		ID:          DEXAerodrome,
		DisplayName: "Aerodrome",
		Router:      "0xcF77a3Ba9A5CA399B7c97c74d54e5b1Beb874E43",
		Factory:     "0x420DD381b31aEf6683db6B902084cB0FFECe40Da",
		Priority:    2,
	},
	{
		ID:          DEXBaseSwap,
		DisplayName: "BaseSwap",
		Router:      "0x327Df1E6de05895d2ab08513aaDD9313Fe505d86",
		Factory:     "0xFDa619b6d20975be80A10332cD39b9a4b0FAa8BB",
		Priority:    3,
	},
	{
		ID:          DEXSushiSwap,
		DisplayName: "SushiSwap",
		Router:      "0x6BDED42c6DA8FBf0d2bA55B2fa120C5e0c8D7891",
		Priority:    4,
	},
}

// LookupToken returns the token registered under symbol (case-insensitive)
func LookupToken(symbol string) (TokenInfo, error) {
	info, ok := BaseTokens[strings.ToUpper(symbol)]
	if !ok {
		return TokenInfo{}, fmt.Errorf("unknown token: %s (supported: WETH, USDC, USDT)", symbol)
	}
	return info, nil
}

// EnabledDEXes returns the presets switched on in cfg, in priority order
func (c *Config) EnabledDEXes() []DEXPreset {
	out := make([]DEXPreset, 0, len(BaseDEXes))
	for _, d := range BaseDEXes {
		if c.DEX.Enabled(d.ID) {
			out = append(out, d)
		}
	}
	return out
}
