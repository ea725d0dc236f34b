package wallet

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"
)

const WalletPath = "filemint/wallet.json"

// Path returns the wallet location, creating its directory.
func Path() (string, error) {
	walletPath, err := xdg.ConfigFile(WalletPath)
	if err != nil {
		return "", fmt.Errorf("failed to create config file path: %w", err)
	}
	return walletPath, nil
}

// Store moves a freshly written keystore file to the wallet path.
func Store(account accounts.Account, walletPath string) error {
	created := account.URL.Path
	if created == walletPath {
		return nil
	}
	if err := os.Rename(created, walletPath); err != nil {
		return fmt.Errorf("failed to rename wallet file: %w", err)
	}
	return nil
}

// KeyStore opens a keystore in the wallet directory.
func KeyStore(walletPath string) *keystore.KeyStore {
	return keystore.NewKeyStore(filepath.Dir(walletPath), keystore.StandardScryptN, keystore.StandardScryptP)
}

// Address reads the account address of a keystore file without decrypting it.
func Address(path string) (common.Address, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read wallet file: %w", err)
	}

	var v struct {
		Address string `json:"address"`
	}
	err = json.Unmarshal(data, &v)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode wallet file: %w", err)
	}
	if !common.IsHexAddress(v.Address) {
		return common.Address{}, fmt.Errorf("wallet file %s has no address", path)
	}
	return common.HexToAddress(v.Address), nil
}

// ReadPassword first checks the WALLET_PASSWORD environment variable, then reads a password
// interactively if stdin is a terminal, or from piped stdin otherwise. With confirm set an
// interactive password has to be typed twice.
func ReadPassword(confirm bool) (string, error) {
	password, ok := os.LookupEnv("WALLET_PASSWORD")
	if ok {
		return password, nil
	}

	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := prompt("Enter wallet password: ")
		if err != nil {
			return "", err
		}
		if !confirm {
			return password, nil
		}

		again, err := prompt("Confirm password: ")
		if err != nil {
			return "", err
		}
		if password != again {
			return "", errors.New("passwords did not match")
		}
		return password, nil
	}

	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(password), nil
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
