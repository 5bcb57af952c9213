package nft

import (
	"math/big"
	"strings"

	xerrors "OpenNFT-Agent/internal/errors"
)

const etherDecimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)

// ParseEther converts a decimal ETH amount such as "0.05" to wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "ETH"), "eth")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "empty ether amount",
			xerrors.WithUserMessage("请提供 ETH 金额，例如 0.05。"))
	}
	if strings.HasPrefix(s, "-") {
		return nil, invalidAmount(s)
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return nil, invalidAmount(s)
	}
	if len(frac) > etherDecimals {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "too many decimals: "+s,
			xerrors.WithUserMessage("ETH 金额最多支持 18 位小数。"))
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return nil, invalidAmount(s)
			}
		}
	}

	wei, ok := new(big.Int).SetString(whole+frac+strings.Repeat("0", etherDecimals-len(frac)), 10)
	if !ok {
		return nil, invalidAmount(s)
	}
	return wei, nil
}

func invalidAmount(s string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "invalid ether amount: "+s,
		xerrors.WithUserMessage("ETH 金额格式不正确，例如 0.05。"))
}

// FormatEther renders wei as a decimal ETH string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)
	whole, frac := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", etherDecimals-len(digits)) + digits
		out += "." + strings.TrimRight(digits, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
