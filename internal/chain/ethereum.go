package chain

func evmChain(slug, name, native string, chainID uint64, eip1559 bool) *Params {
	return &Params{
		Slug:        slug,
		Name:        name,
		Type:        ChainTypeEVM,
		Decimals:    18,
		NativeToken: native,

		CoinType:       60,
		DefaultPurpose: 44,

		ChainID:         chainID,
		SupportsEIP1559: eip1559,

		ExistentialDeposit:  "0",
		SupportsTransferAll: true,
	}
}

func erc20(chain, symbol, name string, decimals uint8, contract, group string) *Asset {
	return &Asset{
		Symbol:          symbol,
		Name:            name,
		Decimals:        decimals,
		Type:            AssetERC20,
		OriginChain:     chain,
		ContractAddress: contract,
		MinAmount:       "0",
		MultiChainAsset: group,
	}
}

func init() {
	// ==========================================================================
	// Ethereum
	// ==========================================================================

	ethereum := evmChain("ethereum", "Ethereum", "ETH", 1, true)
	Register(Mainnet, ethereum)
	RegisterNative(Mainnet, ethereum, "ETH")
	RegisterAsset(Mainnet, erc20("ethereum", "USDT", "Tether USD", 6, "0xdAC17F958D2ee523a2206206994597C13D831ec7", "USDT"))
	RegisterAsset(Mainnet, erc20("ethereum", "USDC", "USD Coin", 6, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USDC"))
	RegisterAsset(Mainnet, erc20("ethereum", "WETH", "Wrapped Ether", 18, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "WETH"))
	RegisterAsset(Mainnet, erc20("ethereum", "WBTC", "Wrapped Bitcoin", 8, "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", ""))

	sepolia := evmChain("sepolia_ethereum", "Ethereum Sepolia", "ETH", 11155111, true)
	Register(Testnet, sepolia)
	RegisterNative(Testnet, sepolia, "ETH")
	RegisterAsset(Testnet, erc20("sepolia_ethereum", "USDC", "USD Coin", 6, "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", "USDC"))

	// ==========================================================================
	// BNB Smart Chain (legacy gas pricing)
	// ==========================================================================

	bsc := evmChain("binance", "BNB Smart Chain", "BNB", 56, false)
	Register(Mainnet, bsc)
	RegisterNative(Mainnet, bsc, "BNB")
	RegisterAsset(Mainnet, erc20("binance", "USDT", "Tether USD", 18, "0x55d398326f99059fF775485246999027B3197955", ""))
	RegisterAsset(Mainnet, erc20("binance", "USDC", "USD Coin", 18, "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", ""))

	bscTest := evmChain("binance_test", "BNB Smart Chain Testnet", "BNB", 97, false)
	Register(Testnet, bscTest)
	RegisterNative(Testnet, bscTest, "BNB")

	// ==========================================================================
	// Polygon
	// ==========================================================================

	polygon := evmChain("polygon", "Polygon", "POL", 137, true)
	Register(Mainnet, polygon)
	RegisterNative(Mainnet, polygon, "POL")
	RegisterAsset(Mainnet, erc20("polygon", "USDT", "Tether USD", 6, "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", ""))
	RegisterAsset(Mainnet, erc20("polygon", "USDC", "USD Coin", 6, "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", ""))

	amoy := evmChain("polygon_amoy", "Polygon Amoy", "POL", 80002, true)
	Register(Testnet, amoy)
	RegisterNative(Testnet, amoy, "POL")

	// ==========================================================================
	// L2s
	// ==========================================================================

	arbitrum := evmChain("arbitrum_one", "Arbitrum One", "ETH", 42161, true)
	Register(Mainnet, arbitrum)
	RegisterNative(Mainnet, arbitrum, "")
	RegisterAsset(Mainnet, erc20("arbitrum_one", "USDC", "USD Coin", 6, "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", ""))

	base := evmChain("base_mainnet", "Base", "ETH", 8453, true)
	Register(Mainnet, base)
	RegisterNative(Mainnet, base, "")
	RegisterAsset(Mainnet, erc20("base_mainnet", "USDC", "USD Coin", 6, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", ""))

	baseSepolia := evmChain("base_sepolia", "Base Sepolia", "ETH", 84532, true)
	Register(Testnet, baseSepolia)
	RegisterNative(Testnet, baseSepolia, "")

	// ==========================================================================
	// Moonbeam: Substrate runtime with an EVM, 20-byte accounts
	// ==========================================================================

	moonbeam := evmChain("moonbeam", "Moonbeam", "GLMR", 1284, true)
	moonbeam.GenesisHash = "0xfe58ea77779b7abda7da4ec526d14db9b1e9cd40a217c34892af80a9b332b76d"
	moonbeam.SS58Prefix = 1284
	moonbeam.ParaID = 2004
	moonbeam.RelayChain = "polkadot"
	moonbeam.ExistentialDeposit = "0"
	moonbeam.CrossChainFee = "20000000000000000"
	Register(Mainnet, moonbeam)
	RegisterNative(Mainnet, moonbeam, "GLMR")
	RegisterAsset(Mainnet, &Asset{
		Symbol:          "xcDOT",
		Name:            "Polkadot (XCM)",
		Decimals:        10,
		Type:            AssetERC20,
		OriginChain:     "moonbeam",
		ContractAddress: "0xFfFFfFff1FcaCBd218EDc0EbA20Fc2308C778080",
		MinAmount:       "0",
		MultiChainAsset: "DOT",
	})

	moonbase := evmChain("moonbase", "Moonbase Alpha", "DEV", 1287, true)
	moonbase.GenesisHash = "0x91bc6e169807aaa54802737e1c504b2577d4fafedd5a02c10293b1cd60e39527"
	moonbase.SS58Prefix = 1287
	moonbase.ParaID = 1000
	Register(Testnet, moonbase)
	RegisterNative(Testnet, moonbase, "DEV")
}
