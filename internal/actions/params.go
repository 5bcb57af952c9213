package actions

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"OpenNFT-Agent/internal/abi"
	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/nft"
)

// Parameter names shared by actions, the LLM contract and the CLI.
const (
	ParamTokenID      = "token_id"
	ParamPrice        = "price"
	ParamURI          = "uri"
	ParamTo           = "to"
	ParamAmount       = "amount"
	ParamDurationDays = "duration_days"
	ParamLoanID       = "loan_id"
)

// Params are the structured arguments of an action. Amounts are decimal ETH
// strings.
type Params struct {
	TokenID      string `json:"token_id,omitempty"`
	Price        string `json:"price,omitempty"`
	URI          string `json:"uri,omitempty"`
	To           string `json:"to,omitempty"`
	Amount       string `json:"amount,omitempty"`
	DurationDays string `json:"duration_days,omitempty"`
	LoanID       string `json:"loan_id,omitempty"`
}

// ParamsFromMap builds Params from loosely keyed values such as LLM output.
func ParamsFromMap(m map[string]string) Params {
	var p Params
	for k, v := range m {
		p.set(k, v)
	}
	return p
}

func (p *Params) set(name, value string) {
	value = strings.TrimSpace(value)
	switch normalizeName(name) {
	case ParamTokenID:
		p.TokenID = value
	case ParamPrice:
		p.Price = value
	case ParamURI:
		p.URI = value
	case ParamTo:
		p.To = value
	case ParamAmount:
		p.Amount = value
	case ParamDurationDays:
		p.DurationDays = value
	case ParamLoanID:
		p.LoanID = value
	}
}

func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	switch n {
	case "tokenid", "token", "id":
		return ParamTokenID
	case "tokenuri", "token_uri", "metadata":
		return ParamURI
	case "duration", "days", "durationdays":
		return ParamDurationDays
	case "loanid", "loan":
		return ParamLoanID
	case "recipient", "address":
		return ParamTo
	}
	return n
}

// Get returns the value of a named parameter.
func (p Params) Get(name string) string {
	switch name {
	case ParamTokenID:
		return p.TokenID
	case ParamPrice:
		return p.Price
	case ParamURI:
		return p.URI
	case ParamTo:
		return p.To
	case ParamAmount:
		return p.Amount
	case ParamDurationDays:
		return p.DurationDays
	case ParamLoanID:
		return p.LoanID
	}
	return ""
}

// Missing lists the required names without a value.
func (p Params) Missing(required []string) []string {
	var out []string
	for _, name := range required {
		if p.Get(name) == "" {
			out = append(out, name)
		}
	}
	return out
}

// Map returns the non-empty parameters keyed by name.
func (p Params) Map() map[string]string {
	out := make(map[string]string)
	for _, name := range []string{ParamTokenID, ParamPrice, ParamURI, ParamTo, ParamAmount, ParamDurationDays, ParamLoanID} {
		if v := p.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

// paramLabels are the names shown to chat users.
var paramLabels = map[string]string{
	ParamTokenID:      "NFT 编号",
	ParamPrice:        "价格(ETH)",
	ParamURI:          "元数据 URI",
	ParamTo:           "接收地址",
	ParamAmount:       "借款金额(ETH)",
	ParamDurationDays: "借款天数",
	ParamLoanID:       "借款编号",
}

// Label returns the chat facing label of a parameter.
func Label(name string) string {
	if l, ok := paramLabels[name]; ok {
		return l
	}
	return name
}

func parseID(name, raw string) (*big.Int, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid "+name+": "+raw,
			xerrors.WithUserMessage(Label(name)+" 必须是非负整数。"))
	}
	return n, nil
}

func parseEther(name, raw string) (*big.Int, error) {
	v, err := nft.ParseEther(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid "+name,
			xerrors.WithUserMessage(Label(name)+" 格式不正确，例如 0.05。"))
	}
	return v, nil
}

func parseDays(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "天"), "days")
	days, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || days == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "invalid duration: "+raw,
			xerrors.WithUserMessage("借款天数必须是正整数。"))
	}
	return days, nil
}

func parseAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	if !abi.IsAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "invalid address: "+raw,
			xerrors.WithUserMessage("接收地址格式不正确，应为 0x 开头的 40 位十六进制地址。"))
	}
	return common.HexToAddress(raw), nil
}
