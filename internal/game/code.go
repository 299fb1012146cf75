package game

import (
	"math/rand"
	"sync"
	"time"
)

// 房间码字符集（去掉易混淆的 0 O 1 I）
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength 房间码长度
const CodeLength = 6

var (
	codeRngMu sync.Mutex
	codeRng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewRoomCode 生成6位房间码（唯一性由调用方检查后重试保证）
func NewRoomCode() string {
	codeRngMu.Lock()
	defer codeRngMu.Unlock()

	buf := make([]byte, CodeLength)
	for i := range buf {
		buf[i] = codeAlphabet[codeRng.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
