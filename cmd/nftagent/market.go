package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"OpenNFT-Agent/internal/actions"
	"OpenNFT-Agent/internal/agent"
)

// marketCommand 把一个子命令映射到操作与位置参数。
type marketCommand struct {
	name   string
	usage  string
	action string
	args   []string
}

var marketTable = []marketCommand{
	{name: "mint", usage: "铸造 NFT", action: actions.MintNFT, args: []string{actions.ParamURI}},
	{name: "list", usage: "上架 NFT", action: actions.ListNFT, args: []string{actions.ParamTokenID, actions.ParamPrice}},
	{name: "buy", usage: "购买在售 NFT", action: actions.BuyNFT, args: []string{actions.ParamTokenID}},
	{name: "cancel", usage: "取消挂单", action: actions.CancelListing, args: []string{actions.ParamTokenID}},
	{name: "stake", usage: "质押 NFT", action: actions.StakeNFT, args: []string{actions.ParamTokenID}},
	{name: "unstake", usage: "解除质押", action: actions.UnstakeNFT, args: []string{actions.ParamTokenID}},
	{name: "claim", usage: "领取质押奖励", action: actions.ClaimRewards, args: []string{actions.ParamTokenID}},
	{name: "loan", usage: "以 NFT 抵押借款", action: actions.CreateLoan, args: []string{actions.ParamTokenID, actions.ParamAmount, actions.ParamDurationDays}},
	{name: "repay", usage: "偿还借款", action: actions.RepayLoan, args: []string{actions.ParamLoanID}},
	{name: "listings", usage: "查看在售列表", action: actions.GetListings},
	{name: "info", usage: "查询 NFT 信息", action: actions.NFTInfo, args: []string{actions.ParamTokenID}},
	{name: "balance", usage: "查询钱包余额", action: actions.WalletBalance},
}

func marketCommands() []*cli.Command {
	cmds := make([]*cli.Command, 0, len(marketTable))
	for _, mc := range marketTable {
		mc := mc
		usage := make([]string, len(mc.args))
		for i, name := range mc.args {
			usage[i] = "<" + name + ">"
		}
		flags := []cli.Flag{jsonFlag}
		if mc.action == actions.MintNFT {
			flags = append(flags, &cli.StringFlag{Name: actions.ParamTo, Usage: "接收地址，默认为当前钱包"})
		}
		cmds = append(cmds, &cli.Command{
			Name:      mc.name,
			Usage:     mc.usage,
			ArgsUsage: strings.Join(usage, " "),
			Flags:     flags,
			Action: func(c *cli.Context) error {
				intent, err := mc.intent(c.Args().Slice())
				if err != nil {
					return err
				}
				if to := c.String(actions.ParamTo); mc.action == actions.MintNFT && to != "" {
					intent.Params[actions.ParamTo] = to
				}
				return runMarket(c, mc.name, intent)
			},
		})
	}
	return cmds
}

// intent 按位置把命令行参数填入操作参数。
func (mc marketCommand) intent(args []string) (*agent.Intent, error) {
	if len(args) != len(mc.args) {
		labels := make([]string, len(mc.args))
		for i, name := range mc.args {
			labels[i] = actions.Label(name)
		}
		if len(labels) == 0 {
			return nil, fmt.Errorf("%s 不接受参数", mc.name)
		}
		return nil, fmt.Errorf("%s 需要参数: %s", mc.name, strings.Join(labels, "、"))
	}
	params := make(map[string]string, len(args)+1)
	for i, name := range mc.args {
		params[name] = args[i]
	}
	return &agent.Intent{Action: mc.action, Params: params}, nil
}

func runMarket(c *cli.Context, name string, intent *agent.Intent) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	text := strings.TrimSpace(name + " " + strings.Join(c.Args().Slice(), " "))
	reply, err := rt.agent.Handle(c.Context, agent.Message{UserID: "cli", Text: text, Intent: intent})
	if reply != nil {
		if perr := printReply(c.App.Writer, reply, c.Bool("json")); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if reply.Failed {
		return cli.Exit("", 1)
	}
	return nil
}
