package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"citanft/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
)

// SiteConfig models site.json.
type SiteConfig struct {
	Chain struct {
		ChainID int64  `json:"chainId"`
		Network string `json:"network"`
		RPCURL  string `json:"rpcUrl"`
	} `json:"chain"`
	Collection struct {
		Name         string `json:"name"`
		SupplyCap    int64  `json:"supplyCap"`
		MintPriceWei string `json:"mintPriceWei"`
	} `json:"collection"`
	Wallet struct {
		Backends     []string `json:"backends"`
		Preferred    string   `json:"preferred"`
		KeystoreDir  string   `json:"keystoreDir"`
		Account      string   `json:"account"`
		ClefEndpoint string   `json:"clefEndpoint"`
	} `json:"wallet"`
	Polling struct {
		IntervalSeconds int `json:"intervalSeconds"`
	} `json:"polling"`
	Secrets struct {
		HMACSalt string `json:"hmacSalt"`
	} `json:"secrets"`
	Discord struct {
		ChannelID string `json:"channelId"`
	} `json:"discord"`
	Timeouts struct {
		RPCTimeoutMs          int `json:"rpcTimeoutMs"`
		IdempotencyWindowSecs int `json:"idempotencyWindowSeconds"`
	} `json:"timeouts"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		CitaNFT string `json:"CitaNFT"`
	} `json:"contracts"`
	// ABIPath optionally points at a compiled artifact or bare ABI array.
	ABIPath string `json:"abiPath"`
}

// AppConfig ties together site + deployment info and derived values.
type AppConfig struct {
	Site       SiteConfig
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Wallet     WalletConfig
}

type ServiceConfig struct {
	HTTPPort             int
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	DatabaseURL          string
	DiscordToken         string
	PollInterval         time.Duration
	RPCTimeout           time.Duration
}

type ChainConfig struct {
	ChainID   *big.Int
	Network   string
	RPCURL    string
	Contract  common.Address
	ABI       string
	SupplyCap *big.Int
	MintPrice *big.Int
}

type WalletConfig struct {
	Backends     []string
	Preferred    string
	PrivateKey   string
	KeystoreDir  string
	Account      string
	Passphrase   string
	ClefEndpoint string
}

const (
	defaultSitePath        = "config/site.json"
	defaultDeploymentsPath = "config/deployments.json"

	defaultChainID   = 4
	defaultNetwork   = "rinkeby"
	defaultSupplyCap = 333
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	return LoadFrom(envOr("SITE_CONFIG_PATH", defaultSitePath), envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath))
}

// LoadFrom is Load with explicit file locations. Environment overrides still apply.
func LoadFrom(sitePath, deploymentsPath string) (*AppConfig, error) {
	siteCfg, err := loadSite(sitePath)
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	chainCfg, err := buildChain(siteCfg, deployCfg, filepath.Dir(deploymentsPath))
	if err != nil {
		return nil, err
	}

	serviceCfg := ServiceConfig{
		HTTPPort:             envOrInt("API_HTTP_PORT", 3000),
		HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow:    time.Duration(siteCfg.Timeouts.IdempotencyWindowSecs) * time.Second,
		IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "citanft-idem.json")),
		DatabaseURL:          envOr("DATABASE_URL", ""),
		DiscordToken:         envOr("DISCORD_BOT_TOKEN", ""),
		PollInterval:         time.Duration(envOrInt("POLL_INTERVAL_SECONDS", siteCfg.Polling.IntervalSeconds)) * time.Second,
		RPCTimeout:           time.Duration(envOrInt("RPC_TIMEOUT_MS", siteCfg.Timeouts.RPCTimeoutMs)) * time.Millisecond,
	}

	if serviceCfg.IdempotencyWindow <= 0 {
		serviceCfg.IdempotencyWindow = 10 * time.Minute
	}

	walletCfg := WalletConfig{
		Backends:     siteCfg.Wallet.Backends,
		Preferred:    envOr("WALLET_BACKEND", siteCfg.Wallet.Preferred),
		PrivateKey:   envOr("WALLET_PRIVATE_KEY", envOr("RINKEBY_PRIVATE_KEY", "")),
		KeystoreDir:  envOr("WALLET_KEYSTORE_DIR", siteCfg.Wallet.KeystoreDir),
		Account:      envOr("WALLET_ACCOUNT", siteCfg.Wallet.Account),
		Passphrase:   envOr("WALLET_PASSPHRASE", ""),
		ClefEndpoint: envOr("CLEF_ENDPOINT", siteCfg.Wallet.ClefEndpoint),
	}
	if len(walletCfg.Backends) == 0 {
		walletCfg.Backends = []string{"rpc"}
	}

	return &AppConfig{
		Site:       *siteCfg,
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      *chainCfg,
		Wallet:     walletCfg,
	}, nil
}

func buildChain(site *SiteConfig, deploy *DeploymentConfig, baseDir string) (*ChainConfig, error) {
	chainID := site.Chain.ChainID
	if chainID == 0 {
		chainID = defaultChainID
	}
	chainID = int64(envOrInt("CHAIN_ID", int(chainID)))
	if deploy.ChainID != 0 && deploy.ChainID != chainID {
		return nil, fmt.Errorf("deployment is for chain %d, site requires %d", deploy.ChainID, chainID)
	}

	network := site.Chain.Network
	if network == "" {
		network = defaultNetwork
	}

	addr := envOr("CONTRACT_ADDRESS", deploy.Contracts.CitaNFT)
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid contract address %q", addr)
	}

	abiJSON := contracts.CitaNFTABI
	if deploy.ABIPath != "" {
		path := deploy.ABIPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		loaded, err := loadABI(path)
		if err != nil {
			return nil, fmt.Errorf("load abi: %w", err)
		}
		abiJSON = loaded
	}

	supplyCap := site.Collection.SupplyCap
	if supplyCap <= 0 {
		supplyCap = defaultSupplyCap
	}

	priceStr := envOr("MINT_PRICE_WEI", site.Collection.MintPriceWei)
	if priceStr == "" {
		priceStr = "0"
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok || price.Sign() < 0 {
		return nil, fmt.Errorf("invalid mint price %q", priceStr)
	}

	return &ChainConfig{
		ChainID:   big.NewInt(chainID),
		Network:   network,
		RPCURL:    envOr("CHAIN_RPC_URL", rpcURL(site.Chain.RPCURL, network)),
		Contract:  common.HexToAddress(addr),
		ABI:       abiJSON,
		SupplyCap: big.NewInt(supplyCap),
		MintPrice: price,
	}, nil
}

// rpcURL falls back to the Ankr endpoint the deployment tooling used when
// ANKR_ID is set.
func rpcURL(configured, network string) string {
	if configured != "" {
		return configured
	}
	if id := envOr("ANKR_ID", ""); id != "" {
		return fmt.Sprintf("https://rpc.ankr.com/eth_%s/%s", strings.ToLower(network), id)
	}
	return ""
}

// loadABI accepts either a bare ABI array or an artifact with an "abi" field.
func loadABI(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(raw, &artifact); err == nil && len(artifact.ABI) > 0 {
		return string(artifact.ABI), nil
	}
	var bare []json.RawMessage
	if err := json.Unmarshal(raw, &bare); err != nil {
		return "", fmt.Errorf("%s: neither an ABI array nor an artifact", path)
	}
	return string(raw), nil
}

func loadSite(path string) (*SiteConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SiteConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
