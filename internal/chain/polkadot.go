package chain

import (
	"github.com/Klingon-tech/klingsign/internal/substrate"
)

// Runtime call tables. Indices differ per runtime, so each chain carries its own.

type palletIndices struct {
	balances, staking, pools, xcm, utility uint8
}

func relayCalls(p palletIndices) map[string]substrate.CallIndex {
	return map[string]substrate.CallIndex{
		substrate.CallTransferAllowDeath: {Pallet: p.balances, Call: 0},
		substrate.CallTransferKeepAlive:  {Pallet: p.balances, Call: 3},
		substrate.CallTransferAll:        {Pallet: p.balances, Call: 4},

		substrate.CallStakingBond:      {Pallet: p.staking, Call: 0},
		substrate.CallStakingBondExtra: {Pallet: p.staking, Call: 1},
		substrate.CallStakingUnbond:    {Pallet: p.staking, Call: 2},
		substrate.CallStakingWithdraw:  {Pallet: p.staking, Call: 3},
		substrate.CallStakingNominate:  {Pallet: p.staking, Call: 5},
		substrate.CallStakingPayout:    {Pallet: p.staking, Call: 18},
		substrate.CallStakingRebond:    {Pallet: p.staking, Call: 19},

		substrate.CallPoolsJoin:        {Pallet: p.pools, Call: 0},
		substrate.CallPoolsClaimPayout: {Pallet: p.pools, Call: 2},
		substrate.CallPoolsUnbond:      {Pallet: p.pools, Call: 3},
		substrate.CallPoolsWithdraw:    {Pallet: p.pools, Call: 5},

		substrate.CallXcmReserveTransfer: {Pallet: p.xcm, Call: 8},
		substrate.CallUtilityBatchAll:    {Pallet: p.utility, Call: 2},
	}
}

func assetHubCalls() map[string]substrate.CallIndex {
	return map[string]substrate.CallIndex{
		substrate.CallTransferAllowDeath: {Pallet: 10, Call: 0},
		substrate.CallTransferKeepAlive:  {Pallet: 10, Call: 3},
		substrate.CallTransferAll:        {Pallet: 10, Call: 4},
		substrate.CallAssetsTransfer:     {Pallet: 50, Call: 8},
		substrate.CallXcmReserveTransfer: {Pallet: 31, Call: 8},
		substrate.CallUtilityBatchAll:    {Pallet: 40, Call: 2},
	}
}

func substrateChain(slug, name, native string, decimals uint8, genesis string, ss58 uint16, ed string) *Params {
	return &Params{
		Slug:        slug,
		Name:        name,
		Type:        ChainTypeSubstrate,
		Decimals:    decimals,
		NativeToken: native,

		CoinType:       354,
		DefaultPurpose: 44,

		GenesisHash: genesis,
		SS58Prefix:  ss58,

		ExistentialDeposit:  ed,
		SupportsTransferAll: true,
	}
}

func init() {
	// ==========================================================================
	// Polkadot
	// ==========================================================================

	polkadot := substrateChain("polkadot", "Polkadot", "DOT", 10,
		"0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3", 0, "10000000000")
	polkadot.KeepAlive = true
	polkadot.CrossChainFee = "300000000"
	polkadot.Calls = relayCalls(palletIndices{balances: 5, staking: 7, pools: 39, xcm: 99, utility: 26})
	Register(Mainnet, polkadot)
	RegisterNative(Mainnet, polkadot, "DOT")

	statemint := substrateChain("statemint", "Polkadot Asset Hub", "DOT", 10,
		"0x68d56f15f85d3136970ec16946040bc1752654e906147f7e43e9d539d7c3de2f", 0, "100000000")
	statemint.ParaID = 1000
	statemint.RelayChain = "polkadot"
	statemint.CrossChainFee = "50000000"
	statemint.Calls = assetHubCalls()
	Register(Mainnet, statemint)
	RegisterNative(Mainnet, statemint, "DOT")
	RegisterAsset(Mainnet, &Asset{
		Symbol: "USDT", Name: "Tether USD", Decimals: 6, Type: AssetLocal,
		OriginChain: "statemint", AssetID: 1984, MinAmount: "10000", MultiChainAsset: "USDT",
	})
	RegisterAsset(Mainnet, &Asset{
		Symbol: "USDC", Name: "USD Coin", Decimals: 6, Type: AssetLocal,
		OriginChain: "statemint", AssetID: 1337, MinAmount: "10000", MultiChainAsset: "USDC",
	})

	// ==========================================================================
	// Kusama
	// ==========================================================================

	kusama := substrateChain("kusama", "Kusama", "KSM", 12,
		"0xb0a8d493285c2df73290dfb7e61f870f17b41801197a149ca93654499ea3dafe", 2, "333333333")
	kusama.KeepAlive = true
	kusama.CrossChainFee = "100000000"
	kusama.Calls = relayCalls(palletIndices{balances: 4, staking: 6, pools: 41, xcm: 99, utility: 24})
	Register(Mainnet, kusama)
	RegisterNative(Mainnet, kusama, "KSM")

	// Calamari carries shielded zk assets that cannot be moved by this daemon.
	calamari := substrateChain("calamari", "Calamari", "KMA", 12,
		"0x4ac80c99289841dd946ef92765bf659a307d39189b3ce374a92b5f0415ee17a1", 78, "100000000000")
	calamari.ParaID = 2084
	calamari.RelayChain = "kusama"
	calamari.Shielded = true
	calamari.SupportsTransferAll = false
	calamari.Calls = map[string]substrate.CallIndex{
		substrate.CallTransferAllowDeath: {Pallet: 10, Call: 0},
		substrate.CallTransferKeepAlive:  {Pallet: 10, Call: 3},
	}
	Register(Mainnet, calamari)
	RegisterNative(Mainnet, calamari, "KMA")
	RegisterAsset(Mainnet, &Asset{
		Symbol: "zkKMA", Name: "Shielded KMA", Decimals: 12, Type: AssetLocal,
		OriginChain: "calamari", MinAmount: "0",
	})

	RegisterRoute(Mainnet, Route{Origin: "polkadot", Dest: "statemint", Protocol: ProtocolXCM})
	RegisterRoute(Mainnet, Route{Origin: "statemint", Dest: "polkadot", Protocol: ProtocolXCM})
	RegisterRoute(Mainnet, Route{Origin: "polkadot", Dest: "moonbeam", Protocol: ProtocolXCM})
	RegisterRoute(Mainnet, Route{Origin: "ethereum", Dest: "statemint", Protocol: ProtocolGateway})

	// ==========================================================================
	// Westend (testnet)
	// ==========================================================================

	westend := substrateChain("westend", "Westend", "WND", 12,
		"0xe143f23803ac50e8f6f8e62695d1ce9e4e1d68aa36c1cd2cfd15340213f3423e", 42, "10000000000")
	westend.KeepAlive = true
	westend.CrossChainFee = "3000000000"
	westend.Calls = relayCalls(palletIndices{balances: 4, staking: 6, pools: 29, xcm: 99, utility: 16})
	Register(Testnet, westend)
	RegisterNative(Testnet, westend, "WND")

	westmint := substrateChain("westend_assethub", "Westend Asset Hub", "WND", 12,
		"0x67f9723393ef76214df0118c34bbbd3dbebc8ed46a10973a8c969d48fe7598c9", 42, "1000000000")
	westmint.ParaID = 1000
	westmint.RelayChain = "westend"
	westmint.CrossChainFee = "1000000000"
	westmint.Calls = assetHubCalls()
	Register(Testnet, westmint)
	RegisterNative(Testnet, westmint, "WND")
	RegisterAsset(Testnet, &Asset{
		Symbol: "USDC", Name: "USD Coin (bridged)", Decimals: 6, Type: AssetLocal,
		OriginChain: "westend_assethub", AssetID: 1337, MinAmount: "10000", MultiChainAsset: "USDC",
	})

	RegisterRoute(Testnet, Route{Origin: "westend", Dest: "westend_assethub", Protocol: ProtocolXCM})
	RegisterRoute(Testnet, Route{Origin: "westend_assethub", Dest: "westend", Protocol: ProtocolXCM})
	RegisterRoute(Testnet, Route{Origin: "sepolia_ethereum", Dest: "westend_assethub", Protocol: ProtocolGateway})
}
