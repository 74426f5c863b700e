package mysqlclient

import (
	"crypto/sha1"
	"crypto/sha256"

	"github.com/brindlecore/reactor/asyncerr"
)

// scrambleNative implements mysql_native_password's challenge-response:
// SHA1(password) XOR SHA1(salt + SHA1(SHA1(password))), grounded on the
// auth method naming in DaKeiser-vitess/go/mysql/constants.go
// (MysqlNativePassword) and the well-known MySQL 4.1+ algorithm.
func scrambleNative(password, salt []byte) []byte {
	if len(password) == 0 {
		return nil
	}
	hashStage1 := sha1.Sum(password)
	hashStage2 := sha1.Sum(hashStage1[:])

	h := sha1.New()
	h.Write(salt)
	h.Write(hashStage2[:])
	scramble := h.Sum(nil)

	out := make([]byte, len(scramble))
	for i := range out {
		out[i] = scramble[i] ^ hashStage1[i]
	}
	return out
}

// scrambleCachingSha2 implements the fast-auth path of caching_sha2_password:
// XOR(SHA256(password), SHA256(SHA256(SHA256(password)) + salt)).
func scrambleCachingSha2(password, salt []byte) []byte {
	if len(password) == 0 {
		return nil
	}
	stage1 := sha256.Sum256(password)
	stage2 := sha256.Sum256(stage1[:])

	h := sha256.New()
	h.Write(stage2[:])
	h.Write(salt)
	scramble := h.Sum(nil)

	out := make([]byte, len(scramble))
	for i := range out {
		out[i] = scramble[i] ^ stage1[i]
	}
	return out
}

// computeAuthResponse dispatches to the scramble function matching method,
// returning a Protocol error for anything unsupported (spec §4.5: "at
// minimum: ... plugin-auth with mysql_native_password and
// caching_sha2_password").
func computeAuthResponse(method AuthMethod, password, salt []byte) ([]byte, error) {
	switch method {
	case AuthMysqlNativePassword:
		return scrambleNative(password, salt), nil
	case AuthCachingSha2Password:
		return scrambleCachingSha2(password, salt), nil
	case AuthMysqlClearPassword:
		return append([]byte(nil), password...), nil
	default:
		return nil, asyncerr.New(asyncerr.KindProtocol, "unsupported auth method: "+string(method))
	}
}
