// Package evm deploys contract units to an Ethereum-compatible chain.
package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultDeployTimeout bounds a single deployment, including confirmation.
const DefaultDeployTimeout = 5 * time.Minute

var (
	ErrNoBytecode     = errors.New("unit has no bytecode")
	ErrInvalidConfig  = errors.New("invalid chain configuration")
	ErrInvalidABI     = errors.New("invalid interface descriptor")
	ErrNotConfirmed   = errors.New("deployment not confirmed")
	ErrChainIDMissing = errors.New("chain id unavailable")
)

// Config holds the chain connection settings.
type Config struct {
	RPCURL        string
	ChainID       int64 // 0 queries the node
	PrivateKey    string
	DeployTimeout time.Duration
	GasLimit      uint64 // 0 estimates per deployment
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("%w: rpc url is required", ErrInvalidConfig)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("%w: private key is required", ErrInvalidConfig)
	}
	if c.ChainID < 0 {
		return fmt.Errorf("%w: chain id must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Backend is the part of a node client the deployer needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Deployer sends contract creation transactions and waits for them to be
// mined. It is not safe for concurrent use.
type Deployer struct {
	backend  Backend
	auth     *bind.TransactOpts
	timeout  time.Duration
	gasLimit uint64
	logger   *slog.Logger
	closer   func()
}

// Dial connects to cfg.RPCURL and returns a deployer signing with
// cfg.PrivateKey.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Deployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	d, err := NewDeployer(ctx, client, key, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	d.closer = client.Close
	return d, nil
}

// NewDeployer creates a deployer on an existing backend.
func NewDeployer(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, cfg Config, logger *slog.Logger) (*Deployer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainIDMissing, err)
		}
		chainID = id
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}

	timeout := cfg.DeployTimeout
	if timeout <= 0 {
		timeout = DefaultDeployTimeout
	}

	logger.Info("deployer ready", "chain_id", chainID.String(), "from", auth.From.Hex())

	return &Deployer{
		backend:  backend,
		auth:     auth,
		timeout:  timeout,
		gasLimit: cfg.GasLimit,
		logger:   logger,
	}, nil
}

// ParsePrivateKey parses a hex encoded secp256k1 key, with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidConfig, err)
	}
	return key, nil
}

// Deploy creates one instance of unit with the given constructor arguments and
// blocks until the creation transaction is mined.
func (d *Deployer) Deploy(ctx context.Context, unit domain.UnitDescriptor, args []any) (domain.DeploymentResult, error) {
	parsed, err := abi.JSON(bytes.NewReader(unit.Interface))
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("%w: %v", ErrInvalidABI, err)
	}
	code, err := toBytes(unit.Bytecode)
	if err != nil || len(code) == 0 {
		return domain.DeploymentResult{}, fmt.Errorf("%w: %s", ErrNoBytecode, unit.Name)
	}
	params, err := ConvertArgs(parsed.Constructor.Inputs, args)
	if err != nil {
		return domain.DeploymentResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	opts := *d.auth
	opts.Context = ctx
	opts.GasLimit = d.gasLimit

	addr, tx, _, err := bind.DeployContract(&opts, parsed, code, d.backend, params...)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("send creation transaction: %w", err)
	}
	d.logger.Info("creation transaction sent",
		"unit", unit.Name,
		"tx_hash", tx.Hash().Hex(),
		"address", addr.Hex(),
	)

	deployed, err := bind.WaitDeployed(ctx, d.backend, tx)
	if err != nil {
		// The contract may still be mined at addr; keep it for a manual persist.
		return domain.DeploymentResult{}, fmt.Errorf("%w: address %s, tx %s: %v", ErrNotConfirmed, addr.Hex(), tx.Hash().Hex(), err)
	}

	return domain.DeploymentResult{
		Unit:      unit.Name,
		Address:   deployed.Hex(),
		Interface: unit.Interface,
		TxHash:    tx.Hash().Hex(),
		Args:      args,
	}, nil
}

// From returns the deploying account.
func (d *Deployer) From() string {
	return d.auth.From.Hex()
}

// Close releases the node connection if the deployer owns it.
func (d *Deployer) Close() error {
	if d.closer != nil {
		d.closer()
	}
	return nil
}
