package oracle

import (
	"math/big"

	"golang.org/x/crypto/sha3"
)

// deriveWords returns keccak256(salt ‖ uint256(requestID) ‖ uint256(i)) for
// each word. With an empty salt this matches keccak256(abi.encode(requestId, i)).
func deriveWords(salt []byte, requestID uint64, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		h := sha3.NewLegacyKeccak256()
		h.Write(salt)
		h.Write(uint256Bytes(new(big.Int).SetUint64(requestID)))
		h.Write(uint256Bytes(big.NewInt(int64(i))))
		words[i] = new(big.Int).SetBytes(h.Sum(nil))
	}
	return words
}

func uint256Bytes(v *big.Int) []byte {
	return v.FillBytes(make([]byte, 32))
}
