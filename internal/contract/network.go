package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Avalanche Fuji 测试网
const (
	FujiChainID     int64 = 43113
	FujiNetworkName       = "avalanche-fuji"
	FujiRPCURL            = "https://api.avax-test.network/ext/bc/C/rpc"
	FujiExplorerURL       = "https://testnet.snowtrace.io"

	NativeSymbol         = "AVAX"
	NativeName           = "Avalanche"
	NativeDecimals uint8 = 18
)

// Network 网络描述
type Network struct {
	ChainID        int64  `json:"chain_id"`
	Name           string `json:"name"`
	RPCURL         string `json:"rpc_url"`
	ExplorerURL    string `json:"explorer_url"`
	NativeSymbol   string `json:"native_symbol"`
	NativeDecimals uint8  `json:"native_decimals"`
}

// Fuji 返回 Fuji 网络配置
func Fuji() Network {
	return Network{
		ChainID:        FujiChainID,
		Name:           FujiNetworkName,
		RPCURL:         FujiRPCURL,
		ExplorerURL:    FujiExplorerURL,
		NativeSymbol:   NativeSymbol,
		NativeDecimals: NativeDecimals,
	}
}

// NewNetwork 以 Fuji 为基础, 用非空参数覆盖
func NewNetwork(chainID int64, name, rpcURL, explorerURL string) Network {
	n := Fuji()
	if chainID != 0 {
		n.ChainID = chainID
	}
	if name != "" {
		n.Name = name
	}
	if rpcURL != "" {
		n.RPCURL = rpcURL
	}
	if explorerURL != "" {
		n.ExplorerURL = strings.TrimRight(explorerURL, "/")
	}
	return n
}

// TxURL 交易浏览器链接
func (n Network) TxURL(txHash common.Hash) string {
	return n.ExplorerURL + "/tx/" + txHash.Hex()
}

// AddressURL 地址浏览器链接
func (n Network) AddressURL(address common.Address) string {
	return n.ExplorerURL + "/address/" + address.Hex()
}
