// Package config holds the settings read once at startup and the CLI flags that fill them.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/urfave/cli/v2"
)

type Config struct {
	NodeURL string

	PinataURL       string
	PinataJWT       string
	PinataAPIKey    string
	PinataAPISecret string
	Gateway         string
	MaxFileSize     int64

	RegistryAddress string
	RegistryABI     string
	RegistryGas     uint64

	TreasuryAddress string
	TreasuryABI     string
	TreasuryGas     uint64

	// StoreOwner is the treasury signer. With TreasuryKeystore set it is derived from the key.
	StoreOwner       string
	TreasuryKeystore string
	WalletPassword   string

	// InitialSupply and RewardAmount are whole tokens.
	InitialSupply uint64
	RewardAmount  uint64

	ReceiptTimeout time.Duration
	StorageTimeout time.Duration
	StorageRetries uint64

	Listen string
}

func Default() Config {
	return Config{
		NodeURL:        "http://localhost:8545",
		PinataURL:      contentstore.DefaultPinataURL,
		Gateway:        contentstore.DefaultGateway,
		MaxFileSize:    100 << 20,
		InitialSupply:  1_000_000_000,
		RewardAmount:   500,
		ReceiptTimeout: 2 * time.Minute,
		StorageTimeout: time.Minute,
		StorageRetries: 3,
		Listen:         ":8080",
	}
}

// ValidateLedger checks what every command talking to the contracts needs.
func (c Config) ValidateLedger() error {
	var errs []error

	if c.NodeURL == "" {
		errs = append(errs, errors.New("node url is required"))
	}
	errs = append(errs, checkAddress("file registry address", c.RegistryAddress, true))
	errs = append(errs, checkAddress("mint token address", c.TreasuryAddress, true))
	errs = append(errs, checkAddress("store owner address", c.StoreOwner, c.TreasuryKeystore == ""))
	if c.ReceiptTimeout <= 0 {
		errs = append(errs, errors.New("receipt timeout must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateStorage checks the storage network settings.
func (c Config) ValidateStorage() error {
	var errs []error

	if c.PinataURL == "" {
		errs = append(errs, errors.New("pinata api url is required"))
	}
	if c.PinataJWT == "" && (c.PinataAPIKey == "" || c.PinataAPISecret == "") {
		errs = append(errs, errors.New("either a pinata jwt or an api key and secret are required"))
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("storage timeout must be positive"))
	}
	if c.MaxFileSize < 0 {
		errs = append(errs, errors.New("max file size cannot be negative"))
	}

	return errors.Join(errs...)
}

// Validate checks everything a registration needs.
func (c Config) Validate() error {
	var errs []error

	errs = append(errs, c.ValidateLedger(), c.ValidateStorage())
	if c.RewardAmount == 0 {
		errs = append(errs, errors.New("reward amount must be positive"))
	}

	return errors.Join(errs...)
}

func checkAddress(name, value string, required bool) error {
	switch {
	case value == "" && required:
		return fmt.Errorf("%s is required", name)
	case value != "" && !common.IsHexAddress(value):
		return fmt.Errorf("%s %q is not a valid address", name, value)
	}
	return nil
}

func (c Config) Pinata() contentstore.PinataConfig {
	return contentstore.PinataConfig{
		URL:         c.PinataURL,
		JWT:         c.PinataJWT,
		APIKey:      c.PinataAPIKey,
		APISecret:   c.PinataAPISecret,
		Timeout:     c.StorageTimeout,
		MaxFileSize: c.MaxFileSize,
	}
}

// Workflow returns the orchestrator options, with amounts converted to base units.
func (c Config) Workflow() workflow.Options {
	return workflow.Options{
		RewardAmount:   ledger.TokensToWei(new(big.Int).SetUint64(c.RewardAmount)),
		ReceiptTimeout: c.ReceiptTimeout,
		StorageTimeout: c.StorageTimeout,
		StorageRetries: c.StorageRetries,
	}
}

func (c Config) InitialSupplyWei() *big.Int {
	return ledger.TokensToWei(new(big.Int).SetUint64(c.InitialSupply))
}

// LedgerFlags binds the node, contract and signer settings.
func LedgerFlags(c *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "node-url",
			Usage:       "The URL of the node to connect to",
			Value:       c.NodeURL,
			EnvVars:     []string{"NODE_URL"},
			Destination: &c.NodeURL,
		},
		&cli.StringFlag{
			Name:        "registry",
			Usage:       "Address of the FileToken registry contract",
			EnvVars:     []string{"FILE_REGISTRY_ADDRESS"},
			Destination: &c.RegistryAddress,
		},
		&cli.StringFlag{
			Name:        "registry-abi",
			Usage:       "Path of a FileToken ABI overriding the built-in one",
			EnvVars:     []string{"FILE_REGISTRY_ABI"},
			Destination: &c.RegistryABI,
		},
		&cli.Uint64Flag{
			Name:        "registry-gas",
			Usage:       "Gas limit for registrations, 0 to estimate",
			EnvVars:     []string{"REGISTRY_GAS"},
			Destination: &c.RegistryGas,
		},
		&cli.StringFlag{
			Name:        "treasury",
			Usage:       "Address of the MintToken reward contract",
			EnvVars:     []string{"MINT_TOKEN_ADDRESS"},
			Destination: &c.TreasuryAddress,
		},
		&cli.StringFlag{
			Name:        "treasury-abi",
			Usage:       "Path of a MintToken ABI overriding the built-in one",
			EnvVars:     []string{"MINT_TOKEN_ABI"},
			Destination: &c.TreasuryABI,
		},
		&cli.Uint64Flag{
			Name:        "treasury-gas",
			Usage:       "Gas limit for treasury transactions, 0 to estimate",
			EnvVars:     []string{"TREASURY_GAS"},
			Destination: &c.TreasuryGas,
		},
		&cli.StringFlag{
			Name:        "store-owner",
			Usage:       "Node managed account paying rewards",
			EnvVars:     []string{"STORE_OWNER_ADDRESS"},
			Destination: &c.StoreOwner,
		},
		&cli.StringFlag{
			Name:        "treasury-keystore",
			Usage:       "Keystore file signing treasury transactions locally instead of through the node",
			EnvVars:     []string{"TREASURY_KEYSTORE"},
			Destination: &c.TreasuryKeystore,
		},
		&cli.DurationFlag{
			Name:        "receipt-timeout",
			Usage:       "How long to wait for a transaction receipt",
			Value:       c.ReceiptTimeout,
			EnvVars:     []string{"RECEIPT_TIMEOUT"},
			Destination: &c.ReceiptTimeout,
		},
	}
}

// StorageFlags binds the pinning service settings.
func StorageFlags(c *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "pinata-url",
			Usage:       "Base URL of the Pinata API",
			Value:       c.PinataURL,
			EnvVars:     []string{"PINATA_API_URL"},
			Destination: &c.PinataURL,
		},
		&cli.StringFlag{
			Name:        "pinata-jwt",
			Usage:       "Pinata JWT",
			EnvVars:     []string{"PINATA_JWT"},
			Destination: &c.PinataJWT,
		},
		&cli.StringFlag{
			Name:        "pinata-api-key",
			Usage:       "Pinata API key, used with the secret when no JWT is set",
			EnvVars:     []string{"PINATA_API_KEY"},
			Destination: &c.PinataAPIKey,
		},
		&cli.StringFlag{
			Name:        "pinata-secret",
			Usage:       "Pinata API secret",
			EnvVars:     []string{"PINATA_SECRET_API_KEY"},
			Destination: &c.PinataAPISecret,
		},
		&cli.StringFlag{
			Name:        "gateway",
			Usage:       "Public IPFS gateway for links",
			Value:       c.Gateway,
			EnvVars:     []string{"IPFS_GATEWAY"},
			Destination: &c.Gateway,
		},
		&cli.Int64Flag{
			Name:        "max-file-size",
			Usage:       "Largest file accepted for pinning, in bytes",
			Value:       c.MaxFileSize,
			EnvVars:     []string{"MAX_FILE_SIZE"},
			Destination: &c.MaxFileSize,
		},
		&cli.DurationFlag{
			Name:        "storage-timeout",
			Usage:       "Deadline of a single pin request",
			Value:       c.StorageTimeout,
			EnvVars:     []string{"STORAGE_TIMEOUT"},
			Destination: &c.StorageTimeout,
		},
		&cli.Uint64Flag{
			Name:        "storage-retries",
			Usage:       "Retries of a pin request while the storage network is unavailable",
			Value:       c.StorageRetries,
			EnvVars:     []string{"STORAGE_RETRIES"},
			Destination: &c.StorageRetries,
		},
	}
}

// RewardFlags binds the token amounts.
func RewardFlags(c *Config) []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:        "reward",
			Usage:       "Reward paid per registration, in whole tokens",
			Value:       c.RewardAmount,
			EnvVars:     []string{"REWARD_AMOUNT"},
			Destination: &c.RewardAmount,
		},
		&cli.Uint64Flag{
			Name:        "initial-supply",
			Usage:       "Supply minted to the store owner when the treasury holds none, in whole tokens",
			Value:       c.InitialSupply,
			EnvVars:     []string{"INITIAL_SUPPLY"},
			Destination: &c.InitialSupply,
		},
	}
}
