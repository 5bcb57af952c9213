package actions

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"OpenNFT-Agent/internal/nft"
	"OpenNFT-Agent/internal/web3"
)

// Action names.
const (
	MintNFT       = "MINT_NFT"
	ListNFT       = "LIST_NFT"
	BuyNFT        = "BUY_NFT"
	CancelListing = "CANCEL_LISTING"
	StakeNFT      = "STAKE_NFT"
	UnstakeNFT    = "UNSTAKE_NFT"
	ClaimRewards  = "CLAIM_REWARDS"
	CreateLoan    = "CREATE_LOAN"
	RepayLoan     = "REPAY_LOAN"
	GetListings   = "GET_LISTINGS"
	NFTInfo       = "NFT_INFO"
	WalletBalance = "WALLET_BALANCE"
)

// NewDefaultSet wires the marketplace actions in match order.
func NewDefaultSet(m Marketplace) *Set {
	return NewSet(
		&action{
			name:        CancelListing,
			similes:     []string{"DELIST_NFT", "UNLIST_NFT"},
			description: "取消自己在市场上的 NFT 挂单",
			examples:    []string{"取消上架 NFT #3", "cancel listing of token 3"},
			keywords:    []string{"取消上架", "下架", "cancel listing", "delist", "unlist"},
			required:    []string{ParamTokenID},
			handle: tokenTx(m.CancelListing, func(id string) string {
				return fmt.Sprintf("NFT #%s 已取消上架。", id)
			}),
		},
		&action{
			name:        GetListings,
			similes:     []string{"SHOW_LISTINGS", "MARKET_LISTINGS"},
			description: "查看市场上所有在售的 NFT",
			examples:    []string{"市场上有哪些 NFT 在售？", "show listings"},
			keywords:    []string{"在售", "市场列表", "挂单列表", "listings", "for sale", "marketplace"},
			handle:      listingsHandler(m),
		},
		&action{
			name:        UnstakeNFT,
			similes:     []string{"WITHDRAW_STAKE"},
			description: "解除质押并取回 NFT",
			examples:    []string{"解除质押 NFT #2", "unstake token 2"},
			keywords:    []string{"解除质押", "取消质押", "赎回", "unstake"},
			required:    []string{ParamTokenID},
			handle: tokenTx(m.Unstake, func(id string) string {
				return fmt.Sprintf("NFT #%s 已解除质押，已返回您的钱包。", id)
			}),
		},
		&action{
			name:        ClaimRewards,
			similes:     []string{"CLAIM_STAKING_REWARDS"},
			description: "领取质押 NFT 累积的奖励",
			examples:    []string{"领取 NFT #2 的质押奖励", "claim rewards for token 2"},
			keywords:    []string{"领取奖励", "领取", "奖励", "claim", "reward"},
			required:    []string{ParamTokenID},
			handle: tokenTx(m.ClaimRewards, func(id string) string {
				return fmt.Sprintf("NFT #%s 的质押奖励已领取。", id)
			}),
		},
		&action{
			name:        RepayLoan,
			similes:     []string{"PAY_BACK_LOAN"},
			description: "偿还以 NFT 抵押的借款（本金加利息）",
			examples:    []string{"还款 借款编号 1", "repay loan 1"},
			keywords:    []string{"还款", "偿还", "repay"},
			required:    []string{ParamLoanID},
			handle:      repayHandler(m),
		},
		&action{
			name:        MintNFT,
			similes:     []string{"CREATE_NFT"},
			description: "铸造一个新的 NFT",
			examples:    []string{"帮我铸造一个 NFT，元数据 ipfs://Qm...", "mint an nft with uri ipfs://Qm..."},
			keywords:    []string{"铸造", "mint", "创建nft", "创建 nft"},
			required:    []string{ParamURI},
			handle:      mintHandler(m),
		},
		&action{
			name:        ListNFT,
			similes:     []string{"SELL_NFT"},
			description: "以指定价格在市场上架自己的 NFT",
			examples:    []string{"把 NFT #3 以 0.05 ETH 上架", "list token 3 for 0.05 eth"},
			keywords:    []string{"上架", "出售", "挂单", "sell", "list"},
			required:    []string{ParamTokenID, ParamPrice},
			handle:      listHandler(m),
		},
		&action{
			name:        BuyNFT,
			similes:     []string{"PURCHASE_NFT"},
			description: "按挂单价格购买市场上的 NFT",
			examples:    []string{"购买 NFT #3", "buy token 3"},
			keywords:    []string{"购买", "买", "buy", "purchase"},
			required:    []string{ParamTokenID},
			handle:      buyHandler(m),
		},
		&action{
			name:        StakeNFT,
			similes:     []string{"DEPOSIT_NFT"},
			description: "质押 NFT 以获取奖励",
			examples:    []string{"质押 NFT #2", "stake token 2"},
			keywords:    []string{"质押", "stake"},
			required:    []string{ParamTokenID},
			handle: tokenTx(m.Stake, func(id string) string {
				return fmt.Sprintf("NFT #%s 质押成功，开始累积奖励。", id)
			}),
		},
		&action{
			name:        CreateLoan,
			similes:     []string{"BORROW"},
			description: "以 NFT 作为抵押借入 ETH",
			examples:    []string{"用 NFT #2 抵押借 0.1 ETH，期限 7 天", "borrow 0.1 eth against token 2 for 7 days"},
			keywords:    []string{"借款", "贷款", "抵押", "借", "loan", "borrow"},
			required:    []string{ParamTokenID, ParamAmount, ParamDurationDays},
			handle:      loanHandler(m),
		},
		&action{
			name:        NFTInfo,
			similes:     []string{"TOKEN_INFO", "NFT_DETAILS"},
			description: "查询 NFT 的持有者、元数据与挂单状态",
			examples:    []string{"查询 NFT #3 的信息", "info of token 3"},
			keywords:    []string{"详情", "信息", "持有者", "info", "owner", "details"},
			required:    []string{ParamTokenID},
			handle:      infoHandler(m),
		},
		&action{
			name:        WalletBalance,
			similes:     []string{"BALANCE", "CHECK_BALANCE"},
			description: "查询钱包 ETH 余额",
			examples:    []string{"我的钱包余额是多少？", "check my balance"},
			keywords:    []string{"余额", "钱包", "balance", "wallet"},
			handle:      balanceHandler(m),
		},
	)
}

func tokenTx(call func(context.Context, *big.Int) (*nft.TxResult, error), text func(id string) string) handlerFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		id, err := parseID(ParamTokenID, p.TokenID)
		if err != nil {
			return nil, err
		}
		res, err := call(ctx, id)
		if err != nil {
			return nil, err
		}
		return txReply(text(id.String()), res, map[string]any{"token_id": id.String()}), nil
	}
}

func mintHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		to, err := parseAddress(p.To)
		if err != nil {
			return nil, err
		}
		res, err := m.Mint(ctx, to, p.URI)
		if err != nil {
			return nil, err
		}
		text := fmt.Sprintf("NFT 铸造成功！编号 #%s", res.TokenID)
		return txReply(text, &res.TxResult, map[string]any{
			"token_id": res.TokenID.String(),
			"uri":      p.URI,
		}), nil
	}
}

func listHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		id, err := parseID(ParamTokenID, p.TokenID)
		if err != nil {
			return nil, err
		}
		price, err := parseEther(ParamPrice, p.Price)
		if err != nil {
			return nil, err
		}
		res, err := m.List(ctx, id, price)
		if err != nil {
			return nil, err
		}
		text := fmt.Sprintf("NFT #%s 已以 %s ETH 上架。", id, nft.FormatEther(price))
		if res.Approved {
			text += "已自动授权市场合约管理您的 NFT。"
		}
		return txReply(text, res, map[string]any{
			"token_id": id.String(),
			"price":    nft.FormatEther(price),
		}), nil
	}
}

func buyHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		id, err := parseID(ParamTokenID, p.TokenID)
		if err != nil {
			return nil, err
		}
		res, err := m.Buy(ctx, id)
		if err != nil {
			return nil, err
		}
		return txReply(fmt.Sprintf("购买成功！NFT #%s 已转入您的钱包。", id), res,
			map[string]any{"token_id": id.String()}), nil
	}
}

func loanHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		id, err := parseID(ParamTokenID, p.TokenID)
		if err != nil {
			return nil, err
		}
		amount, err := parseEther(ParamAmount, p.Amount)
		if err != nil {
			return nil, err
		}
		days, err := parseDays(p.DurationDays)
		if err != nil {
			return nil, err
		}
		res, err := m.CreateLoan(ctx, id, amount, days)
		if err != nil {
			return nil, err
		}
		text := fmt.Sprintf("借款成功！借款编号 #%s，以 NFT #%s 抵押借入 %s ETH，期限 %d 天。",
			res.LoanID, id, nft.FormatEther(amount), days)
		return txReply(text, &res.TxResult, map[string]any{
			"loan_id":       res.LoanID.String(),
			"token_id":      id.String(),
			"amount":        nft.FormatEther(amount),
			"duration_days": days,
		}), nil
	}
}

func repayHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		loanID, err := parseID(ParamLoanID, p.LoanID)
		if err != nil {
			return nil, err
		}
		res, err := m.RepayLoan(ctx, loanID)
		if err != nil {
			return nil, err
		}
		return txReply(fmt.Sprintf("借款 #%s 已还清，抵押的 NFT 已返还。", loanID), res,
			map[string]any{"loan_id": loanID.String()}), nil
	}
}

func listingsHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, _ Params) (*Result, error) {
		listings, err := m.ActiveListings(ctx)
		if err != nil {
			return nil, err
		}
		if len(listings) == 0 {
			return &Result{Text: "当前市场没有在售的 NFT。", Data: map[string]any{"count": 0}}, nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "市场上共有 %d 个在售 NFT：", len(listings))
		items := make([]map[string]any, 0, len(listings))
		for _, l := range listings {
			fmt.Fprintf(&b, "\n- #%s 价格 %s ETH，卖家 %s", l.TokenID, nft.FormatEther(l.Price), l.Seller.Hex())
			items = append(items, map[string]any{
				"token_id": l.TokenID.String(),
				"price":    nft.FormatEther(l.Price),
				"seller":   l.Seller.Hex(),
			})
		}
		return &Result{Text: b.String(), Data: map[string]any{"count": len(listings), "listings": items}}, nil
	}
}

func infoHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		id, err := parseID(ParamTokenID, p.TokenID)
		if err != nil {
			return nil, err
		}
		info, err := m.Info(ctx, id)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "NFT #%s\n持有者: %s\n元数据: %s", id, info.Owner, info.TokenURI)
		data := map[string]any{"token_id": id.String(), "owner": info.Owner, "token_uri": info.TokenURI}
		if info.Listing != nil {
			fmt.Fprintf(&b, "\n在售价格: %s ETH", nft.FormatEther(info.Listing.Price))
			data["price"] = nft.FormatEther(info.Listing.Price)
		}
		if info.Stake != nil {
			fmt.Fprintf(&b, "\n质押中，待领取奖励 %s ETH", nft.FormatEther(info.Stake.PendingRewards))
			data["pending_rewards"] = nft.FormatEther(info.Stake.PendingRewards)
		}
		return &Result{Text: b.String(), Data: data}, nil
	}
}

func balanceHandler(m Marketplace) handlerFunc {
	return func(ctx context.Context, _ Params) (*Result, error) {
		bal, err := m.Balance(ctx)
		if err != nil {
			return nil, err
		}
		addr := m.Address().Hex()
		return &Result{
			Text: fmt.Sprintf("钱包 %s 当前余额 %s ETH。", addr, nft.FormatEther(bal)),
			Data: map[string]any{"address": addr, "balance": nft.FormatEther(bal)},
		}, nil
	}
}

func txReply(text string, res *nft.TxResult, data map[string]any) *Result {
	hash := res.TxHash.Hex()
	data["block_number"] = res.BlockNumber
	return &Result{
		Text:   fmt.Sprintf("%s\n交易哈希: %s", text, hash),
		TxHash: hash,
		Data:   data,
	}
}

func revertReason(err error) string {
	var rev *web3.RevertError
	if errors.As(err, &rev) && rev.Reason != nil {
		return rev.Reason.Reason
	}
	return ""
}
