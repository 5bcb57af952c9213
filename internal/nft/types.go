package nft

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a marketplace listing. getListing only fills Seller, Price and
// Active; getActiveListings fills every field.
type Listing struct {
	NFT     common.Address `json:"nft" abi:"nft"`
	TokenID *big.Int       `json:"token_id" abi:"tokenId"`
	Seller  common.Address `json:"seller" abi:"seller"`
	Price   *big.Int       `json:"price" abi:"price"`
	Active  bool           `json:"active" abi:"active"`
}

// StakeInfo describes a staked token.
type StakeInfo struct {
	Owner          common.Address `json:"owner" abi:"owner"`
	StakedAt       *big.Int       `json:"staked_at" abi:"stakedAt"`
	PendingRewards *big.Int       `json:"pending_rewards" abi:"pendingRewards"`
	Active         bool           `json:"active" abi:"active"`
}

// Loan is an NFT collateralised loan.
type Loan struct {
	Borrower common.Address `json:"borrower" abi:"borrower"`
	NFT      common.Address `json:"nft" abi:"nft"`
	TokenID  *big.Int       `json:"token_id" abi:"tokenId"`
	Amount   *big.Int       `json:"amount" abi:"amount"`
	Interest *big.Int       `json:"interest" abi:"interest"`
	DueAt    *big.Int       `json:"due_at" abi:"dueAt"`
	Repaid   bool           `json:"repaid" abi:"repaid"`
}

// Due is the amount to repay: principal plus interest.
func (l *Loan) Due() *big.Int {
	due := new(big.Int)
	if l.Amount != nil {
		due.Add(due, l.Amount)
	}
	if l.Interest != nil {
		due.Add(due, l.Interest)
	}
	return due
}

// TxResult is the outcome of a confirmed write.
type TxResult struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	// Approved is set when a setApprovalForAll transaction was sent first.
	Approved bool `json:"approved,omitempty"`
}

// MintResult is the outcome of Mint.
type MintResult struct {
	TxResult
	TokenID *big.Int `json:"token_id"`
}

// LoanResult is the outcome of CreateLoan.
type LoanResult struct {
	TxResult
	LoanID *big.Int `json:"loan_id"`
}

// TokenInfo aggregates the readable state of one token.
type TokenInfo struct {
	TokenID  *big.Int   `json:"token_id"`
	Owner    string     `json:"owner"`
	TokenURI string     `json:"token_uri"`
	Listing  *Listing   `json:"listing,omitempty"`
	Stake    *StakeInfo `json:"stake,omitempty"`
}

// tuple is a decoded named tuple.
type tuple map[string]any

func asTuple(v any) (tuple, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tuple value %T", v)
	}
	return tuple(m), nil
}

func (t tuple) address(name string) (common.Address, error) {
	a, ok := t[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("field %s: unexpected %T", name, t[name])
	}
	return a, nil
}

func (t tuple) bigInt(name string) (*big.Int, error) {
	n, ok := t[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("field %s: unexpected %T", name, t[name])
	}
	return n, nil
}

func (t tuple) boolean(name string) (bool, error) {
	b, ok := t[name].(bool)
	if !ok {
		return false, fmt.Errorf("field %s: unexpected %T", name, t[name])
	}
	return b, nil
}

func listingFrom(v any, nft common.Address, tokenID *big.Int) (*Listing, error) {
	t, err := asTuple(v)
	if err != nil {
		return nil, err
	}
	out := &Listing{NFT: nft, TokenID: tokenID}
	if _, ok := t["nft"]; ok {
		if out.NFT, err = t.address("nft"); err != nil {
			return nil, err
		}
		if out.TokenID, err = t.bigInt("tokenId"); err != nil {
			return nil, err
		}
	}
	if out.Seller, err = t.address("seller"); err != nil {
		return nil, err
	}
	if out.Price, err = t.bigInt("price"); err != nil {
		return nil, err
	}
	if out.Active, err = t.boolean("active"); err != nil {
		return nil, err
	}
	return out, nil
}

func stakeFrom(v any) (*StakeInfo, error) {
	t, err := asTuple(v)
	if err != nil {
		return nil, err
	}
	out := &StakeInfo{}
	if out.Owner, err = t.address("owner"); err != nil {
		return nil, err
	}
	if out.StakedAt, err = t.bigInt("stakedAt"); err != nil {
		return nil, err
	}
	if out.PendingRewards, err = t.bigInt("pendingRewards"); err != nil {
		return nil, err
	}
	if out.Active, err = t.boolean("active"); err != nil {
		return nil, err
	}
	return out, nil
}

func loanFrom(v any) (*Loan, error) {
	t, err := asTuple(v)
	if err != nil {
		return nil, err
	}
	out := &Loan{}
	if out.Borrower, err = t.address("borrower"); err != nil {
		return nil, err
	}
	if out.NFT, err = t.address("nft"); err != nil {
		return nil, err
	}
	if out.TokenID, err = t.bigInt("tokenId"); err != nil {
		return nil, err
	}
	if out.Amount, err = t.bigInt("amount"); err != nil {
		return nil, err
	}
	if out.Interest, err = t.bigInt("interest"); err != nil {
		return nil, err
	}
	if out.DueAt, err = t.bigInt("dueAt"); err != nil {
		return nil, err
	}
	if out.Repaid, err = t.boolean("repaid"); err != nil {
		return nil, err
	}
	return out, nil
}
