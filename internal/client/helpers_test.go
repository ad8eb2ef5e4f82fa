package client

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func hexHeader(s string) []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	return b
}

func someAccount() common.Address {
	return common.HexToAddress("0x0000000000000000000000000000000000000001")
}
