package actions

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/nft"
)

// Marketplace is the part of nft.Service the actions drive.
type Marketplace interface {
	Address() common.Address
	Mint(ctx context.Context, to common.Address, tokenURI string) (*nft.MintResult, error)
	List(ctx context.Context, tokenID, price *big.Int) (*nft.TxResult, error)
	Buy(ctx context.Context, tokenID *big.Int) (*nft.TxResult, error)
	CancelListing(ctx context.Context, tokenID *big.Int) (*nft.TxResult, error)
	Stake(ctx context.Context, tokenID *big.Int) (*nft.TxResult, error)
	Unstake(ctx context.Context, tokenID *big.Int) (*nft.TxResult, error)
	ClaimRewards(ctx context.Context, tokenID *big.Int) (*nft.TxResult, error)
	CreateLoan(ctx context.Context, tokenID, amount *big.Int, durationDays uint64) (*nft.LoanResult, error)
	RepayLoan(ctx context.Context, loanID *big.Int) (*nft.TxResult, error)
	ActiveListings(ctx context.Context) ([]nft.Listing, error)
	Info(ctx context.Context, tokenID *big.Int) (*nft.TokenInfo, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// Action is one chat command.
type Action interface {
	Name() string
	Similes() []string
	Description() string
	Examples() []string
	// Validate reports whether msg mentions the action.
	Validate(msg string) bool
	Required() []string
	Handle(ctx context.Context, params Params) (*Result, error)
}

// Result is the outcome of a handled action.
type Result struct {
	Action string         `json:"action"`
	Text   string         `json:"text"`
	TxHash string         `json:"tx_hash,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

type handlerFunc func(ctx context.Context, p Params) (*Result, error)

type action struct {
	name        string
	similes     []string
	description string
	examples    []string
	keywords    []string
	required    []string
	handle      handlerFunc
}

func (a *action) Name() string        { return a.name }
func (a *action) Similes() []string   { return a.similes }
func (a *action) Description() string { return a.description }
func (a *action) Examples() []string  { return a.examples }
func (a *action) Required() []string  { return a.required }

func (a *action) Validate(msg string) bool {
	msg = strings.ToLower(msg)
	for _, kw := range a.keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func (a *action) Handle(ctx context.Context, p Params) (*Result, error) {
	if missing := p.Missing(a.required); len(missing) > 0 {
		labels := make([]string, 0, len(missing))
		for _, m := range missing {
			labels = append(labels, Label(m))
		}
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s missing %v", a.name, missing),
			xerrors.WithUserMessage("缺少参数: "+strings.Join(labels, "、")))
	}
	res, err := a.handle(ctx, p)
	if err != nil {
		return nil, err
	}
	res.Action = a.name
	return res, nil
}

// Set is the ordered action table. Match returns the first action whose
// keywords appear in a message, so more specific actions come first.
type Set struct {
	actions []Action
	byName  map[string]Action
}

// NewSet builds a Set from actions in match order.
func NewSet(list ...Action) *Set {
	s := &Set{byName: make(map[string]Action, len(list))}
	for _, a := range list {
		s.actions = append(s.actions, a)
		s.byName[a.Name()] = a
		for _, simile := range a.Similes() {
			if _, taken := s.byName[simile]; !taken {
				s.byName[simile] = a
			}
		}
	}
	return s
}

// Get finds an action by name or simile, case-insensitively.
func (s *Set) Get(name string) (Action, bool) {
	a, ok := s.byName[strings.ToUpper(strings.TrimSpace(name))]
	return a, ok
}

// Match returns the first action that validates msg.
func (s *Set) Match(msg string) (Action, bool) {
	for _, a := range s.actions {
		if a.Validate(msg) {
			return a, true
		}
	}
	return nil, false
}

// All returns the actions in match order.
func (s *Set) All() []Action {
	return append([]Action(nil), s.actions...)
}

// Help renders the action catalogue for chat users.
func (s *Set) Help() string {
	var b strings.Builder
	b.WriteString("我可以帮您完成以下操作：\n")
	for _, a := range s.actions {
		fmt.Fprintf(&b, "- %s：%s", a.Name(), a.Description())
		if ex := a.Examples(); len(ex) > 0 {
			fmt.Fprintf(&b, "（例如：%s）", ex[0])
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FriendlyError turns an action failure into a chat message.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}
	e, ok := xerrors.From(err)
	if !ok {
		return xerrors.UserMessageOf(err)
	}
	msg := e.UserMessage()
	meta := e.Metadata()
	switch e.Code() {
	case xerrors.CodeInsufficientFunds:
		if meta["price"] != "" && meta["balance"] != "" {
			msg = fmt.Sprintf("%s（价格 %s ETH，当前余额 %s ETH）", msg, meta["price"], meta["balance"])
		}
	case xerrors.CodeNotOwner:
		if meta["owner"] != "" {
			msg = fmt.Sprintf("%s当前持有者为 %s。", msg, meta["owner"])
		}
	case xerrors.CodeTxReverted:
		if reason := revertReason(err); reason != "" {
			msg = fmt.Sprintf("%s原因: %s", msg, reason)
		}
	}
	return msg
}
