package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenNFT-Agent/internal/actions"
	"OpenNFT-Agent/internal/agent"
)

func TestSplitTypesKeepsTupleCommas(t *testing.T) {
	params, err := splitTypes("uint256, (address,uint256)[] ,bool")
	require.NoError(t, err)
	require.Len(t, params, 3)
	assert.Equal(t, "uint256", params[0].Type)
	assert.Equal(t, "tuple[]", params[1].Type)
	require.Len(t, params[1].Components, 2)
	assert.Equal(t, "address", params[1].Components[0].Type)
	assert.Equal(t, "bool", params[2].Type)

	_, err = splitTypes("(uint256,bool")
	assert.Error(t, err)
	_, err = splitTypes("uint256,,bool")
	assert.Error(t, err)
}

func TestSelectorOf(t *testing.T) {
	sig, sel, err := selectorOf("transfer(address,uint)")
	require.NoError(t, err)
	assert.Equal(t, "transfer(address,uint256)", sig)
	assert.Equal(t, "0xa9059cbb", sel)

	_, _, err = selectorOf("transfer")
	assert.Error(t, err)
}

func TestEncodeDecodeArgs(t *testing.T) {
	encoded, err := encodeArgs("uint256,address,string", `[42, "0x00000000000000000000000000000000000000aa", "hi"]`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "0x000000000000000000000000000000000000000000000000000000000000002a"))

	values, err := decodeArgs("uint256,address,string", encoded)
	require.NoError(t, err)
	assert.Equal(t, []any{"42", common.HexToAddress("0xaa").Hex(), "hi"}, values)

	_, err = encodeArgs("uint256", `{"not":"array"}`)
	assert.Error(t, err)
	_, err = decodeArgs("uint256", "0xzz")
	assert.Error(t, err)
}

func TestEncodeArgsLargeIntegerFromString(t *testing.T) {
	encoded, err := encodeArgs("uint256", `["115792089237316195423570985008687907853269984665640564039457584007913129639935"]`)
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("f", 64), encoded)
}

func TestMarketCommandIntent(t *testing.T) {
	var list marketCommand
	for _, mc := range marketTable {
		if mc.name == "list" {
			list = mc
		}
	}
	intent, err := list.intent([]string{"7", "0.05"})
	require.NoError(t, err)
	assert.Equal(t, actions.ListNFT, intent.Action)
	assert.Equal(t, map[string]string{actions.ParamTokenID: "7", actions.ParamPrice: "0.05"}, intent.Params)

	_, err = list.intent([]string{"7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), actions.Label(actions.ParamPrice))
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"token_id=3", " price = 0.1 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"token_id": "3", "price": "0.1"}, params)

	_, err = parseParams([]string{"=3"})
	assert.Error(t, err)

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestChatLoop(t *testing.T) {
	in := strings.NewReader("余额\n\n查询 #1\nexit\n没有处理\n")
	var out bytes.Buffer
	var seen []string
	handle := func(_ context.Context, text string) (*agent.Reply, error) {
		seen = append(seen, text)
		if text == "查询 #1" {
			return nil, errors.New("boom")
		}
		return &agent.Reply{Text: "0.5 ETH", TxHash: "0xabc"}, nil
	}

	require.NoError(t, chatLoop(context.Background(), in, &out, handle, false))
	assert.Equal(t, []string{"余额", "查询 #1"}, seen)
	assert.Contains(t, out.String(), "0.5 ETH")
	assert.Contains(t, out.String(), "交易哈希: 0xabc")
	assert.Contains(t, out.String(), "处理失败: boom")
}
