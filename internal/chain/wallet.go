package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// balanceOf(address)
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// WalletReader snapshots ERC-20 balances straight from chain RPC.
// Reads only; all mutations go through the pool collaborator.
type WalletReader interface {
	Balances(ctx context.Context, tokens []Token) (map[string]float64, error)
}

type Wallet struct {
	client *ethclient.Client
	owner  common.Address
}

func NewWallet(rpcURL, ownerAddress string) (*Wallet, error) {
	if !common.IsHexAddress(ownerAddress) {
		return nil, fmt.Errorf("invalid wallet address %q", ownerAddress)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return &Wallet{client: client, owner: common.HexToAddress(ownerAddress)}, nil
}

func (w *Wallet) Balances(ctx context.Context, tokens []Token) (map[string]float64, error) {
	balances := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		amount, err := w.balanceOf(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", token.Symbol, err)
		}
		balances[token.Symbol] = amount
	}
	return balances, nil
}

func (w *Wallet) balanceOf(ctx context.Context, token Token) (float64, error) {
	if !common.IsHexAddress(token.Address) {
		return 0, fmt.Errorf("invalid token address %q", token.Address)
	}
	contract := common.HexToAddress(token.Address)
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(w.owner.Bytes(), 32)...)
	raw, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	value := new(big.Int).SetBytes(raw)
	scaled, _ := new(big.Float).Quo(
		new(big.Float).SetInt(value),
		big.NewFloat(math.Pow10(token.Decimals)),
	).Float64()
	return scaled, nil
}

func (w *Wallet) Close() {
	w.client.Close()
}
