package journal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 journal 事件的 CRC32 校驗和
// ============================================================================

import (
	"encoding/binary"
	"hash/crc32"
	"math"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 涵蓋 Seq、Type、RunID、Iteration、Worker 與 Quality；
// 不含 Timestamp 與 Checksum 本身。
func CalculateChecksum(e Event) uint32 {
	buf := make([]byte, 0, 64+len(e.Type)+len(e.RunID))
	buf = binary.LittleEndian.AppendUint64(buf, e.Seq)
	buf = append(buf, e.Type...)
	buf = append(buf, 0)
	buf = append(buf, e.RunID...)
	buf = append(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(e.Iteration)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(e.Worker)))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Quality))

	return crc32.ChecksumIEEE(buf)
}

// VerifyChecksum 驗證事件的校驗和是否正確
func VerifyChecksum(e Event) bool {
	return e.Checksum == CalculateChecksum(e)
}
