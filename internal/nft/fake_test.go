package nft

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"OpenNFT-Agent/internal/abi"
	"OpenNFT-Agent/internal/web3"
)

var (
	testWallet      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testStranger    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testNFT         = common.HexToAddress("0x3000000000000000000000000000000000000003")
	testMarketplace = common.HexToAddress("0x4000000000000000000000000000000000000004")
	testContracts   = web3.Contracts{NFT: testNFT, Marketplace: testMarketplace}
)

type sentTx struct {
	method string
	args   []any
	value  *big.Int
}

// fakeChain is an in-memory stand-in for the two contracts. Calldata is
// decoded with the package ABIs so encoding mistakes surface in tests.
type fakeChain struct {
	mu sync.Mutex

	owners         map[string]common.Address
	uris           map[string]string
	listings       map[string]Listing
	stakes         map[string]StakeInfo
	loans          map[string]Loan
	approved       bool
	approvalBroken bool
	balance        *big.Int
	nextToken      int64
	nextLoan       int64

	sent     []sentTx
	calls    map[string]int
	receipts map[common.Hash]*web3.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		owners:   map[string]common.Address{},
		uris:     map[string]string{},
		listings: map[string]Listing{},
		stakes:   map[string]StakeInfo{},
		loans:    map[string]Loan{},
		balance:  mustEther("10"),
		calls:    map[string]int{},
		receipts: map[common.Hash]*web3.Receipt{},
	}
}

func mustEther(s string) *big.Int {
	v, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (f *fakeChain) contract(to common.Address) *abi.ABI {
	if to == testNFT {
		return erc721ABI
	}
	return marketplaceABI
}

func (f *fakeChain) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, tx := range f.sent {
		out = append(out, tx.method)
	}
	return out
}

func (f *fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{ChainID: "0x539", BlockNumber: "0x1"}, nil
}

func (f *fakeChain) Address() common.Address { return testWallet }

func (f *fakeChain) Call(_ context.Context, req web3.CallRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contract := f.contract(req.To)
	fn, args, err := abi.DecodeFunctionData(contract, req.Data)
	if err != nil {
		return nil, err
	}
	f.calls[fn.Name]++

	var out any
	switch fn.Name {
	case "ownerOf":
		owner, ok := f.owners[key(args[0])]
		if !ok {
			return nil, f.revert(erc721ABI, "ERC721NonexistentToken", args[0])
		}
		out = owner
	case "tokenURI":
		out = f.uris[key(args[0])]
	case "getListing":
		listing, ok := f.listings[key(args[1])]
		if !ok {
			listing = Listing{Price: new(big.Int)}
		}
		out = listing
	case "getActiveListings":
		list := []Listing{}
		for _, l := range f.listings {
			if l.Active {
				list = append(list, l)
			}
		}
		out = list
	case "getStakeInfo":
		stake, ok := f.stakes[key(args[1])]
		if !ok {
			stake = StakeInfo{StakedAt: new(big.Int), PendingRewards: new(big.Int)}
		}
		out = stake
	case "getLoan":
		loan, ok := f.loans[key(args[0])]
		if !ok {
			loan = Loan{TokenID: new(big.Int), Amount: new(big.Int), Interest: new(big.Int), DueAt: new(big.Int)}
		}
		out = loan
	case "listNFT", "stakeNFT", "createLoan":
		if !f.approved {
			return nil, f.revert(erc721ABI, "ERC721InsufficientApproval", testMarketplace, args[1])
		}
		return nil, nil
	default:
		return nil, nil
	}
	return abi.EncodeParameters(fn.Outputs, []any{out})
}

func (f *fakeChain) revert(contract *abi.ABI, name string, args ...any) error {
	for _, item := range contract.Errors {
		if item.Name != name {
			continue
		}
		sel, err := item.Selector()
		if err != nil {
			return err
		}
		body, err := abi.EncodeParameters(item.Inputs, args)
		if err != nil {
			return err
		}
		return &web3.RevertError{Data: append(sel[:], body...)}
	}
	return fmt.Errorf("unknown error %s", name)
}

func (f *fakeChain) SendTransaction(_ context.Context, req web3.TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fn, args, err := abi.DecodeFunctionData(f.contract(*req.To), req.Data)
	if err != nil {
		return common.Hash{}, err
	}
	f.sent = append(f.sent, sentTx{method: fn.Name, args: args, value: req.Value})
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", len(f.sent))))
	receipt := &web3.Receipt{TxHash: hash, BlockNumber: uint64(len(f.sent)), Status: types.ReceiptStatusSuccessful}

	switch fn.Name {
	case "mint":
		f.nextToken++
		id := big.NewInt(f.nextToken)
		to := args[0].(common.Address)
		f.owners[id.String()] = to
		f.uris[id.String()] = args[1].(string)
		topic := mustTopic("Transfer")
		receipt.Logs = append(receipt.Logs, types.Log{
			Address: testNFT,
			Topics:  []common.Hash{topic, {}, common.BytesToHash(to.Bytes()), common.BigToHash(id)},
		})
	case "setApprovalForAll":
		f.approved = !f.approvalBroken
	case "listNFT":
		id := args[1].(*big.Int)
		f.listings[id.String()] = Listing{NFT: testNFT, TokenID: id, Seller: testWallet, Price: args[2].(*big.Int), Active: true}
	case "cancelListing":
		id := args[1].(*big.Int)
		l := f.listings[id.String()]
		l.Active = false
		f.listings[id.String()] = l
	case "buyNFT":
		id := args[1].(*big.Int)
		l := f.listings[id.String()]
		if req.Value == nil || req.Value.Cmp(l.Price) != 0 {
			return common.Hash{}, &web3.RevertError{Err: fmt.Errorf("execution reverted: wrong price")}
		}
		l.Active = false
		f.listings[id.String()] = l
		f.owners[id.String()] = testWallet
		f.balance = new(big.Int).Sub(f.balance, req.Value)
	case "stakeNFT":
		id := args[1].(*big.Int)
		f.stakes[id.String()] = StakeInfo{Owner: testWallet, StakedAt: big.NewInt(1700000000), PendingRewards: new(big.Int), Active: true}
		f.owners[id.String()] = testMarketplace
	case "createLoan":
		f.nextLoan++
		loanID := big.NewInt(f.nextLoan)
		id, amount := args[1].(*big.Int), args[2].(*big.Int)
		f.loans[loanID.String()] = Loan{
			Borrower: testWallet,
			NFT:      testNFT,
			TokenID:  id,
			Amount:   amount,
			Interest: new(big.Int).Div(amount, big.NewInt(10)),
			DueAt:    new(big.Int).Add(big.NewInt(1700000000), args[3].(*big.Int)),
		}
		data, err := abi.EncodeParameters([]abi.Parameter{{Type: "address"}, {Type: "uint256"}, {Type: "uint256"}}, []any{testNFT, id, amount})
		if err != nil {
			return common.Hash{}, err
		}
		receipt.Logs = append(receipt.Logs, types.Log{
			Address: testMarketplace,
			Topics:  []common.Hash{mustTopic("LoanCreated"), common.BigToHash(loanID), common.BytesToHash(testWallet.Bytes())},
			Data:    data,
		})
	case "repayLoan":
		loanID := args[0].(*big.Int)
		loan := f.loans[loanID.String()]
		loan.Repaid = true
		f.loans[loanID.String()] = loan
	}
	f.receipts[hash] = receipt
	return hash, nil
}

func mustTopic(event string) common.Hash {
	item, err := eventABI.Event(event)
	if err != nil {
		panic(err)
	}
	topic, err := item.Topic()
	if err != nil {
		panic(err)
	}
	return topic
}

func (f *fakeChain) WaitReceipt(_ context.Context, hash common.Hash) (*web3.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, gethcore.NotFound
	}
	return r, nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) SubscribeEvents(context.Context, gethcore.FilterQuery) (*web3.EventSubscription, error) {
	return nil, nil
}

func (f *fakeChain) SendBatchTransactions(context.Context, []*types.Transaction) ([]common.Hash, error) {
	return nil, nil
}

func (f *fakeChain) Close() {}

func key(v any) string {
	return v.(*big.Int).String()
}
