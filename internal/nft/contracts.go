package nft

import "OpenNFT-Agent/internal/abi"

// ERC721ABI is the subset of the ERC-721 collection used by the agent. mint is
// the collection's owner-less public mint.
const ERC721ABI = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
  {"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
  {"type":"event","name":"ApprovalForAll","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"operator","type":"address","indexed":true},{"name":"approved","type":"bool","indexed":false}]},
  {"type":"error","name":"ERC721InsufficientApproval","inputs":[{"name":"operator","type":"address"},{"name":"tokenId","type":"uint256"}]},
  {"type":"error","name":"ERC721IncorrectOwner","inputs":[{"name":"sender","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"owner","type":"address"}]},
  {"type":"error","name":"ERC721NonexistentToken","inputs":[{"name":"tokenId","type":"uint256"}]}
]`

// MarketplaceABI is the marketplace contract: fixed price listings, staking
// with reward accrual, and NFT collateralised loans.
const MarketplaceABI = `[
  {"type":"function","name":"listNFT","stateMutability":"nonpayable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"buyNFT","stateMutability":"payable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelListing","stateMutability":"nonpayable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getListing","stateMutability":"view","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"seller","type":"address"},{"name":"price","type":"uint256"},{"name":"active","type":"bool"}]}]},
  {"type":"function","name":"getActiveListings","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"seller","type":"address"},{"name":"price","type":"uint256"},{"name":"active","type":"bool"}]}]},
  {"type":"function","name":"stakeNFT","stateMutability":"nonpayable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"unstakeNFT","stateMutability":"nonpayable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getStakeInfo","stateMutability":"view","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"owner","type":"address"},{"name":"stakedAt","type":"uint256"},{"name":"pendingRewards","type":"uint256"},{"name":"active","type":"bool"}]}]},
  {"type":"function","name":"createLoan","stateMutability":"nonpayable","inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"loanId","type":"uint256"}]},
  {"type":"function","name":"repayLoan","stateMutability":"payable","inputs":[{"name":"loanId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getLoan","stateMutability":"view","inputs":[{"name":"loanId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"borrower","type":"address"},{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"interest","type":"uint256"},{"name":"dueAt","type":"uint256"},{"name":"repaid","type":"bool"}]}]},
  {"type":"event","name":"Listed","anonymous":false,"inputs":[{"name":"nft","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"Sold","anonymous":false,"inputs":[{"name":"nft","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"Staked","anonymous":false,"inputs":[{"name":"nft","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true}]},
  {"type":"event","name":"LoanCreated","anonymous":false,"inputs":[{"name":"loanId","type":"uint256","indexed":true},{"name":"borrower","type":"address","indexed":true},{"name":"nft","type":"address","indexed":false},{"name":"tokenId","type":"uint256","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
  {"type":"error","name":"NotApproved","inputs":[]},
  {"type":"error","name":"NotOwner","inputs":[]},
  {"type":"error","name":"ListingNotActive","inputs":[]}
]`

var (
	erc721ABI      = abi.MustParseABI(ERC721ABI)
	marketplaceABI = abi.MustParseABI(MarketplaceABI)
	// revertABI decodes custom errors of both contracts.
	revertABI = &abi.ABI{Errors: append(append([]abi.Item{}, erc721ABI.Errors...), marketplaceABI.Errors...)}
	// eventABI decodes events of both contracts.
	eventABI = &abi.ABI{Events: append(append([]abi.Item{}, erc721ABI.Events...), marketplaceABI.Events...)}
)
