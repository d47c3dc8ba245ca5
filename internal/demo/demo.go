// ============================================================================
// mwcontrol Demo - 迭代平均值求解
// ============================================================================
//
// Package: internal/demo
// 文件: demo.go
// 功能: 一個最小但完整的應用，用來驅動 master/worker 控制迴圈
//
// 問題定義:
//   每個 worker 擁有一個 VDS 分片，分片中每個 (通道, 基線) 產生一個樣本，
//   樣本值由通道中心頻率與基線 index 決定。master 估計所有樣本的平均值：
//
//   worker: 對每個 SolveStep，依 DomainShape 切出工作區塊，
//           累加區塊內樣本相對目前模型的殘差總和與樣本數
//   master: 依 worker index 順序合併，模型 += 平均殘差，
//           |平均殘差| < Epsilon 時收斂
//
// ============================================================================

package demo

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"github.com/ChuLiYu/mwcontrol/internal/step"
)

// ErrNoSamples 表示合併後沒有任何樣本可求解
var ErrNoSamples = errors.New("demo: no samples merged")

// Sample 一個觀測樣本
type Sample struct {
	Freq     float64 // 通道中心頻率 (Hz)
	Time     float64 // 分片時間範圍的中點
	Baseline int     // 基線 index
	Ant1     int
	Ant2     int
	Value    float64
}

// Samples 從分片描述產生樣本
//
// 沒有基線的分片視為只有一條 (0,0) 基線。
func Samples(part domain.VdsPartDesc) []Sample {
	ant1, ant2 := part.Ant1, part.Ant2
	if len(ant1) == 0 {
		ant1, ant2 = []int{0}, []int{0}
	}
	mid := (part.StartTime + part.EndTime) / 2

	var out []Sample
	for b := range part.NChan {
		width := (part.EndFreqs[b] - part.StartFreqs[b]) / float64(part.NChan[b])
		for ch := 0; ch < part.NChan[b]; ch++ {
			freq := part.StartFreqs[b] + (float64(ch)+0.5)*width
			for bl := range ant1 {
				out = append(out, Sample{
					Freq:     freq,
					Time:     mid,
					Baseline: bl,
					Ant1:     ant1[bl],
					Ant2:     ant2[bl],
					Value:    freq/1e6 + 0.01*float64(bl),
				})
			}
		}
	}
	return out
}

// Mean 回傳樣本平均值（用於驗證）
func Mean(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

// ============================================================================
// 模型編碼
// ============================================================================

const (
	modelName    = "MeanModel"
	modelVersion = 1
)

// EncodeModel 將模型值編碼為廣播用的位元組
func EncodeModel(v float64) []byte {
	w := blob.NewWriter(nil)
	w.PutStart(modelName, modelVersion)
	w.PutFloat64(v)
	w.PutEnd()
	return w.Bytes()
}

// DecodeModel 解碼 EncodeModel 的輸出
func DecodeModel(data []byte) (float64, error) {
	r := blob.NewReader(data)
	version, err := r.GetStart(modelName)
	if err != nil {
		return 0, err
	}
	if version != modelVersion {
		return 0, fmt.Errorf("%s version %d not supported", modelName, version)
	}
	v := r.GetFloat64()
	if err := r.GetEnd(); err != nil {
		return 0, err
	}
	if r.Remaining() != 0 {
		return 0, fmt.Errorf("%s: %d trailing bytes", modelName, r.Remaining())
	}
	return v, nil
}

// ============================================================================
// 預設資料與策略
// ============================================================================

// DefaultStrategy 單一 SolveStep 的策略
func DefaultStrategy() *step.Tree {
	return step.NewMultiTree(&step.Solve{
		Selection:    step.Selection{Name: "mean"},
		ParmPatterns: []string{"Mean"},
		Shape:        domain.DomainShape{FreqSize: 2e6, TimeSize: 3600},
		MaxIter:      20,
		Epsilon:      1e-9,
	})
}

// SyntheticVds 產生 nParts 個分片的資料集描述
//
// 分片 i 位於檔案系統 fs<i%2>，頻帶起點每片往上移 10 MHz。
func SyntheticVds(nParts int) *domain.VdsDesc {
	antNames := []string{"CS001", "CS002", "CS003"}

	var global domain.VdsPartDesc
	global.SetName("synthetic.vds", "")
	_ = global.SetTimes(0, 7200)
	_ = global.SetBaselines([]int{0, 0, 1}, []int{1, 2, 2})

	vds := domain.NewVdsDesc(global, antNames)
	for i := 0; i < nParts; i++ {
		var p domain.VdsPartDesc
		p.SetName(fmt.Sprintf("synthetic_%d.ms", i), fmt.Sprintf("fs%d", i%2))
		_ = p.SetTimes(0, 7200)
		start := 120e6 + float64(i)*10e6
		_ = p.AddBand(8, start, start+4e6)
		_ = p.AddBand(4, start+5e6, start+7e6)
		_ = p.SetBaselines([]int{0, 0, 1}, []int{1, 2, 2})
		vds.AddPart(p)
	}
	return vds
}
