package abi

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketJSON = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"buyNFT","stateMutability":"payable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getListing","stateMutability":"view","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"seller","type":"address"},{"name":"price","type":"uint256"},{"name":"active","type":"bool"}]}]},
  {"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
  {"type":"event","name":"Listed","anonymous":false,"inputs":[{"name":"seller","type":"address","indexed":true},{"name":"uri","type":"string","indexed":true},{"name":"tokenId","type":"uint256","indexed":false},{"name":"price","type":"uint256","indexed":false}]},
  {"type":"error","name":"ERC721InsufficientApproval","inputs":[{"name":"operator","type":"address"},{"name":"tokenId","type":"uint256"}]}
]`

func TestSignaturesAndSelectors(t *testing.T) {
	a, err := ParseABI([]byte(marketJSON))
	require.NoError(t, err)

	transfer, err := a.Function("transfer")
	require.NoError(t, err)
	sig, err := transfer.Signature()
	require.NoError(t, err)
	assert.Equal(t, "transfer(address,uint256)", sig)
	sel, err := transfer.Selector()
	require.NoError(t, err)
	assert.Equal(t, "a9059cbb", hex.EncodeToString(sel[:]))

	getListing, err := a.Function("getListing")
	require.NoError(t, err)
	assert.False(t, getListing.Payable())
	buy, err := a.Function("buyNFT")
	require.NoError(t, err)
	assert.True(t, buy.Payable())

	ev, err := a.Event("Transfer")
	require.NoError(t, err)
	topic, err := ev.Topic()
	require.NoError(t, err)
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", topic.Hex())
}

func TestOverloadedFunctionsNeedSignature(t *testing.T) {
	a, err := ParseABI([]byte(marketJSON))
	require.NoError(t, err)

	_, err = a.Function("safeTransferFrom")
	assert.ErrorIs(t, err, ErrFunctionNotFound)

	fn, err := a.Function("safeTransferFrom(address,address,uint256,bytes)")
	require.NoError(t, err)
	assert.Len(t, fn.Inputs, 4)

	_, err = a.Function("mint")
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestParseABIRejectsBadTypes(t *testing.T) {
	_, err := ParseABI([]byte(`[{"type":"function","name":"f","inputs":[{"name":"x","type":"uint7"}]}]`))
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = ParseABI([]byte(`{"not":"a list"}`))
	assert.Error(t, err)
}

func TestFunctionDataMatchesGeth(t *testing.T) {
	a := MustParseABI(marketJSON)
	oracle, err := gethabi.JSON(strings.NewReader(marketJSON))
	require.NoError(t, err)

	want, err := oracle.Pack("buyNFT", alice, big.NewInt(12))
	require.NoError(t, err)
	got, err := EncodeFunctionData(a, "buyNFT", alice, 12)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	fn, args, err := DecodeFunctionData(a, got)
	require.NoError(t, err)
	assert.Equal(t, "buyNFT", fn.Name)
	assert.Equal(t, []any{alice, "12"}, normalize(args))

	_, _, err = DecodeFunctionData(a, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrSelectorNotFound)
}

func TestDecodeFunctionResult(t *testing.T) {
	a := MustParseABI(marketJSON)
	oracle, err := gethabi.JSON(strings.NewReader(marketJSON))
	require.NoError(t, err)

	out, err := oracle.Methods["getListing"].Outputs.Pack(struct {
		Seller common.Address
		Price  *big.Int
		Active bool
	}{bob, big.NewInt(3e16), true})
	require.NoError(t, err)

	res, err := DecodeFunctionResult(a, "getListing", out)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"seller": bob, "price": "30000000000000000", "active": true}, normalize(res))

	boolOut, err := EncodeParameters([]Parameter{{Type: "bool"}}, []any{true})
	require.NoError(t, err)
	res, err = DecodeFunctionResult(a, "transfer", boolOut)
	require.NoError(t, err)
	assert.Equal(t, true, res)

	res, err = DecodeFunctionResult(a, "buyNFT", nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestEventTopicsAndDecode(t *testing.T) {
	a := MustParseABI(marketJSON)
	transfer, err := a.Event("Transfer")
	require.NoError(t, err)

	topics, err := EncodeEventTopics(transfer, nil, alice)
	require.NoError(t, err)
	require.Len(t, topics, 3)
	assert.Nil(t, topics[1])
	assert.Equal(t, common.BytesToHash(alice.Bytes()), topics[2][0])

	trimmed, err := EncodeEventTopics(transfer, alice, nil, nil)
	require.NoError(t, err)
	assert.Len(t, trimmed, 2)

	_, err = EncodeEventTopics(transfer, alice, bob, 1, 2)
	assert.ErrorIs(t, err, ErrTopicsMismatch)

	log, err := DecodeEventLog(a, []common.Hash{
		topics[0][0],
		common.Hash{},
		common.BytesToHash(alice.Bytes()),
		common.BigToHash(big.NewInt(77)),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Transfer", log.Event)
	assert.Equal(t, map[string]any{"from": common.Address{}, "to": alice, "tokenId": "77"}, normalize(log.Args))
}

func TestDecodeEventLogWithDataAndHashedString(t *testing.T) {
	a := MustParseABI(marketJSON)
	listed, err := a.Event("Listed")
	require.NoError(t, err)

	topics, err := EncodeEventTopics(listed, bob, "ipfs://x")
	require.NoError(t, err)
	uriHash := crypto.Keccak256Hash([]byte("ipfs://x"))
	assert.Equal(t, uriHash, topics[2][0])

	data, err := EncodeParameters([]Parameter{{Type: "uint256"}, {Type: "uint256"}}, []any{5, 1000})
	require.NoError(t, err)

	log, err := DecodeEventLog(a, []common.Hash{topics[0][0], topics[1][0], topics[2][0]}, data)
	require.NoError(t, err)
	assert.Equal(t, "Listed", log.Event)
	assert.Equal(t, bob, log.Args["seller"])
	assert.Equal(t, uriHash, log.Args["uri"])
	assert.Equal(t, "5", normalize(log.Args["tokenId"]))
	assert.Equal(t, "1000", normalize(log.Args["price"]))

	_, err = DecodeEventLog(a, []common.Hash{topics[0][0]}, data)
	assert.ErrorIs(t, err, ErrTopicsMismatch)

	_, err = DecodeEventLog(a, []common.Hash{common.HexToHash("0x01")}, data)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestDecodeRevert(t *testing.T) {
	body, err := EncodeParameters([]Parameter{{Type: "string"}}, []any{"caller is not token owner or approved"})
	require.NoError(t, err)
	r, err := DecodeRevert(append([]byte{0x08, 0xc3, 0x79, 0xa0}, body...), nil)
	require.NoError(t, err)
	assert.Equal(t, RevertError, r.Kind)
	assert.Equal(t, "caller is not token owner or approved", r.Reason)

	body, err = EncodeParameters([]Parameter{{Type: "uint256"}}, []any{0x11})
	require.NoError(t, err)
	r, err = DecodeRevert(append([]byte{0x4e, 0x48, 0x7b, 0x71}, body...), nil)
	require.NoError(t, err)
	assert.Equal(t, RevertPanic, r.Kind)
	assert.Equal(t, int64(0x11), r.Code.Int64())
	assert.Equal(t, "arithmetic underflow or overflow", r.Reason)

	a := MustParseABI(marketJSON)
	custom, err := a.Errors[0].Selector()
	require.NoError(t, err)
	body, err = EncodeParameters(a.Errors[0].Inputs, []any{alice, 9})
	require.NoError(t, err)
	r, err = DecodeRevert(append(custom[:], body...), a)
	require.NoError(t, err)
	assert.Equal(t, RevertCustom, r.Kind)
	assert.Equal(t, "ERC721InsufficientApproval", r.Name)
	assert.Equal(t, []any{alice, "9"}, normalize(r.Args))

	_, err = DecodeRevert(append(custom[:], body...), nil)
	assert.ErrorIs(t, err, ErrSelectorNotFound)

	_, err = DecodeRevert([]byte{0x01}, nil)
	assert.ErrorIs(t, err, ErrDataTooSmall)
}

func TestEncodePacked(t *testing.T) {
	// abi.encodePacked(int16(-1), bytes1(0x42), uint16(3), "Hello, world!")
	got, err := EncodePacked(
		[]string{"int16", "bytes1", "uint16", "string"},
		[]any{-1, []byte{0x42}, 3, "Hello, world!"},
	)
	require.NoError(t, err)
	assert.Equal(t, "ffff42000348656c6c6f2c20776f726c6421", hex.EncodeToString(got))

	got, err = EncodePacked([]string{"address", "bool", "uint8[]"}, []any{alice, true, []any{1, 2}})
	require.NoError(t, err)
	want := strings.ToLower(alice.Hex()[2:]) + "01" + hexWord("1") + hexWord("2")
	assert.Equal(t, want, hex.EncodeToString(got))

	_, err = EncodePacked([]string{"string[]"}, []any{[]any{"a"}})
	assert.ErrorIs(t, err, ErrUnsupportedPackedType)

	_, err = EncodePacked([]string{"uint8"}, []any{300})
	assert.ErrorIs(t, err, ErrIntegerOutOfRange)
}
