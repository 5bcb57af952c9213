package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"OpenNFT-Agent/internal/abi"
)

func abiCommands() *cli.Command {
	return &cli.Command{
		Name:  "abi",
		Usage: "ABI 参数编解码工具",
		Subcommands: []*cli.Command{
			{
				Name:      "encode",
				Usage:     "按类型列表编码 JSON 数组形式的参数",
				ArgsUsage: "<types> <values-json>",
				Description: `types 为逗号分隔的类型，例如 "uint256,address,(string,bool)[]"。
values 为 JSON 数组，大整数请使用字符串。`,
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("需要两个参数: <types> <values-json>")
					}
					out, err := encodeArgs(c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, out)
					return nil
				},
			},
			{
				Name:      "decode",
				Usage:     "按类型列表解码 0x 数据",
				ArgsUsage: "<types> <hex-data>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("需要两个参数: <types> <hex-data>")
					}
					values, err := decodeArgs(c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, values)
				},
			},
			{
				Name:      "selector",
				Usage:     "计算函数签名的选择器，或在 ABI 文件中按选择器查找函数",
				ArgsUsage: "<signature|selector>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "abi", Usage: "JSON ABI 文件，用于反查选择器或解码 calldata"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("需要一个参数: <signature|selector>")
					}
					if path := c.String("abi"); path != "" {
						raw, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						parsed, err := abi.ParseABI(raw)
						if err != nil {
							return err
						}
						result, err := lookupSelector(parsed, c.Args().First())
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, result)
					}
					sig, sel, err := selectorOf(c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s %s\n", sel, sig)
					return nil
				},
			},
		},
	}
}

// splitTypes 按顶层逗号切分类型列表，括号内的逗号保留。
func splitTypes(raw string) ([]abi.Parameter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var (
		params []abi.Parameter
		depth  int
		start  int
	)
	flush := func(end int) error {
		part := strings.TrimSpace(raw[start:end])
		if part == "" {
			return fmt.Errorf("类型列表中存在空项: %q", raw)
		}
		p, err := parseParameter(part)
		if err != nil {
			return err
		}
		params = append(params, p)
		return nil
	}
	for i, r := range raw {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("括号不匹配: %q", raw)
			}
		case ',':
			if depth == 0 {
				if err := flush(i); err != nil {
					return nil, err
				}
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("括号不匹配: %q", raw)
	}
	if err := flush(len(raw)); err != nil {
		return nil, err
	}
	return params, nil
}

// parseParameter 把 "(uint256,address)[]" 这类写法转换为带 components 的参数。
func parseParameter(s string) (abi.Parameter, error) {
	if !strings.HasPrefix(s, "(") {
		return abi.Parameter{Type: s}, nil
	}
	closing := strings.LastIndexByte(s, ')')
	if closing < 0 {
		return abi.Parameter{}, fmt.Errorf("括号不匹配: %q", s)
	}
	components, err := splitTypes(s[1:closing])
	if err != nil {
		return abi.Parameter{}, err
	}
	return abi.Parameter{Type: "tuple" + s[closing+1:], Components: components}, nil
}

func encodeArgs(types, valuesJSON string) (string, error) {
	params, err := splitTypes(types)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(strings.NewReader(valuesJSON))
	dec.UseNumber()
	var values []any
	if err := dec.Decode(&values); err != nil {
		return "", fmt.Errorf("参数必须是 JSON 数组: %w", err)
	}
	for i := range values {
		values[i] = fromJSON(values[i])
	}
	data, err := abi.EncodeParameters(params, values)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(data), nil
}

func decodeArgs(types, data string) ([]any, error) {
	params, err := splitTypes(types)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(data), "0x"))
	if err != nil {
		return nil, fmt.Errorf("数据不是合法的十六进制: %w", err)
	}
	values, err := abi.DecodeParameters(params, raw)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = toJSON(v)
	}
	return out, nil
}

func selectorOf(signature string) (string, string, error) {
	sig := strings.TrimSpace(signature)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", "", fmt.Errorf("函数签名格式应为 name(type,...): %q", signature)
	}
	inputs, err := splitTypes(sig[open+1 : len(sig)-1])
	if err != nil {
		return "", "", err
	}
	item := abi.Item{Type: "function", Name: sig[:open], Inputs: inputs}
	canonical, err := item.Signature()
	if err != nil {
		return "", "", err
	}
	sel, err := item.Selector()
	if err != nil {
		return "", "", err
	}
	return canonical, "0x" + hex.EncodeToString(sel[:]), nil
}

// lookupSelector 接受 4 字节选择器或完整 calldata。
func lookupSelector(parsed *abi.ABI, input string) (map[string]any, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(input), "0x"))
	if err != nil || len(raw) < 4 {
		return nil, fmt.Errorf("选择器应为 0x 开头的至少 4 字节十六进制: %q", input)
	}
	if len(raw) == 4 {
		fn, err := parsed.FunctionBySelector(raw)
		if err != nil {
			return nil, err
		}
		sig, err := fn.Signature()
		if err != nil {
			return nil, err
		}
		return map[string]any{"function": sig}, nil
	}
	fn, args, err := abi.DecodeFunctionData(parsed, raw)
	if err != nil {
		return nil, err
	}
	sig, err := fn.Signature()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(args))
	for i, v := range args {
		out[i] = toJSON(v)
	}
	return map[string]any{"function": sig, "args": out}, nil
}

// fromJSON 把 json.Number 转为字符串，交给编码器按目标类型解析。
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		return x.String()
	case []any:
		for i := range x {
			x[i] = fromJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = fromJSON(x[k])
		}
		return x
	default:
		return v
	}
}

// toJSON 把解码结果转换为便于阅读的 JSON 值。
func toJSON(v any) any {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case common.Address:
		return x.Hex()
	case []byte:
		return "0x" + hex.EncodeToString(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = toJSON(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = toJSON(val)
		}
		return out
	default:
		return v
	}
}
